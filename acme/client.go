package acme

import (
	"crypto"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// Client issues certificates from an ACME CA, answering DNS-01 challenges
// from the managed zones.
type Client struct {
	config   *Config
	lego     *lego.Client
	user     *User
	provider *DNS01Provider
	keyFresh bool // account key was generated for this client
}

// NewClient creates a Client. The account key is read from
// config.AccountKeyPath when it exists and is generated (and saved there,
// if a path is set) otherwise.
func NewClient(config *Config, zones Zones) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	key, fresh, err := loadAccountKey(config.AccountKeyPath, config.KeyType)
	if err != nil {
		return nil, err
	}
	user := &User{Email: config.Email, key: key}

	lc := lego.NewConfig(user)
	lc.CADirURL = config.ServerURL
	lc.Certificate.KeyType = parseKeyType(config.KeyType)
	client, err := lego.NewClient(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to create lego client: %w", err)
	}

	provider := NewDNS01Provider(zones)
	provider.SetPropagationWait(config.PropagationWait)

	var opts []dns01.ChallengeOption
	if len(config.Resolvers) > 0 {
		opts = append(opts, dns01.AddRecursiveNameservers(dns01.ParseNameservers(config.Resolvers)))
	}
	if err := client.Challenge.SetDNS01Provider(provider, opts...); err != nil {
		return nil, fmt.Errorf("failed to set DNS-01 provider: %w", err)
	}

	return &Client{config: config, lego: client, user: user, provider: provider, keyFresh: fresh}, nil
}

// Register binds the client to an ACME account. A saved account key is
// first resolved to its existing account; a new account is registered,
// with External Account Binding when a KID is configured, only when that
// fails.
func (c *Client) Register() error {
	if !c.keyFresh {
		reg, err := c.lego.Registration.ResolveAccountByKey()
		if err == nil {
			c.user.Registration = reg
			slog.Info("ACME account resolved", "email", c.user.Email, "uri", reg.URI)
			return nil
		}
		slog.Info("no ACME account for saved key, registering", "error", err)
	}

	var (
		reg *registration.Resource
		err error
	)
	if c.config.EAB.KID != "" {
		reg, err = c.lego.Registration.RegisterWithExternalAccountBinding(registration.RegisterEABOptions{
			TermsOfServiceAgreed: true,
			Kid:                  c.config.EAB.KID,
			HmacEncoded:          c.config.EAB.HMACKey,
		})
	} else {
		reg, err = c.lego.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	}
	if err != nil {
		return fmt.Errorf("failed to register ACME account (eab=%t): %w", c.config.EAB.KID != "", err)
	}

	slog.Info("ACME account registered", "email", c.user.Email, "uri", reg.URI)
	c.user.Registration = reg
	return nil
}

// Obtain requests a bundled certificate covering domains.
func (c *Client) Obtain(domains []string) (*certificate.Resource, error) {
	if len(domains) == 0 {
		return nil, errors.New("no domains specified")
	}
	if c.user.Registration == nil {
		return nil, errors.New("ACME account not registered")
	}

	cert, err := c.lego.Certificate.Obtain(certificate.ObtainRequest{Domains: domains, Bundle: true})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain certificate: %w", err)
	}
	slog.Info("certificate obtained", "domains", domains, "url", cert.CertURL)
	return cert, nil
}

// loadAccountKey reads a PEM account key from path, or generates one of
// keyType. A generated key is written to path (mode 0600) when path is set.
func loadAccountKey(path, keyType string) (key crypto.PrivateKey, fresh bool, err error) {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			key, err := certcrypto.ParsePEMPrivateKey(data)
			if err != nil {
				return nil, false, fmt.Errorf("parse account key %s: %w", path, err)
			}
			return key, false, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, false, fmt.Errorf("read account key: %w", err)
		}
	}

	key, err = certcrypto.GeneratePrivateKey(parseKeyType(keyType))
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate account key: %w", err)
	}
	if path == "" {
		return key, true, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("create account key dir: %w", err)
	}
	if err := os.WriteFile(path, certcrypto.PEMEncode(key), 0o600); err != nil {
		return nil, false, fmt.Errorf("write account key: %w", err)
	}
	slog.Info("ACME account key generated", "path", path)
	return key, true, nil
}

func parseKeyType(keyType string) certcrypto.KeyType {
	switch strings.ToUpper(keyType) {
	case "RSA2048":
		return certcrypto.RSA2048
	case "RSA4096":
		return certcrypto.RSA4096
	case "EC384":
		return certcrypto.EC384
	default:
		return certcrypto.EC256
	}
}
