package acme

import "time"

const (
	// DefaultRenewBefore is how long before expiry a certificate is renewed.
	DefaultRenewBefore = 30 * 24 * time.Hour

	// DefaultPropagationWait is how long Present waits after the zone reload.
	// The record is live on the primary as soon as the reload is verified;
	// the wait covers secondaries picking up the NOTIFY.
	DefaultPropagationWait = 2 * time.Second

	// ChallengeTTL is the TTL of the _acme-challenge TXT records.
	ChallengeTTL = 60
)

// EABConfig holds External Account Binding credentials for ACME providers
// that require it (e.g., ZeroSSL).
type EABConfig struct {
	KID     string
	HMACKey string
}

// Config holds the ACME client configuration.
type Config struct {
	// ServerURL is the ACME directory URL.
	ServerURL string

	// Email is the account email for ACME registration.
	Email string

	// KeyType is the certificate key type (RSA2048, RSA4096, EC256, EC384).
	KeyType string

	RenewBefore     time.Duration
	PropagationWait time.Duration

	// AccountKeyPath keeps the ACME account key across restarts so the
	// same account is reused. Empty generates a new key per client.
	AccountKeyPath string

	// Resolvers are the nameservers lego queries to confirm the challenge
	// record is visible, host:port. Empty uses the system resolvers.
	Resolvers []string

	Storage StorageConfig
	EAB     EABConfig
}

// StorageConfig defines where certificates are kept.
type StorageConfig struct {
	// Type is "file" or "kubernetes-secret".
	Type      string
	Namespace string
	Path      string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:       LetsEncryptStaging(),
		KeyType:         "EC256",
		RenewBefore:     DefaultRenewBefore,
		PropagationWait: DefaultPropagationWait,
		Storage: StorageConfig{
			Type: "file",
			Path: "/var/lib/bindzone/certs",
		},
	}
}

// LetsEncryptProduction returns the Let's Encrypt production server URL.
func LetsEncryptProduction() string {
	return "https://acme-v02.api.letsencrypt.org/directory"
}

// LetsEncryptStaging returns the Let's Encrypt staging server URL.
func LetsEncryptStaging() string {
	return "https://acme-staging-v02.api.letsencrypt.org/directory"
}

// ZeroSSLProduction returns the ZeroSSL production ACME server URL.
func ZeroSSLProduction() string {
	return "https://acme.zerossl.com/v2/DV90"
}
