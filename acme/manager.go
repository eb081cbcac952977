package acme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
)

// Issuer obtains certificates. *Client implements it.
type Issuer interface {
	Obtain(domains []string) (*certificate.Resource, error)
}

// Manager obtains a certificate when none is stored or the stored one is
// close to expiry.
type Manager struct {
	issuer      Issuer
	certs       CertificateStorage
	renewBefore time.Duration

	now func() time.Time
}

// ManagedCertificate is a stored certificate with its validity window.
type ManagedCertificate struct {
	Domain    string
	NotBefore time.Time
	NotAfter  time.Time
	Renewed   bool
}

// NewManager creates a Manager.
func NewManager(issuer Issuer, certs CertificateStorage, renewBefore time.Duration) *Manager {
	if renewBefore <= 0 {
		renewBefore = DefaultRenewBefore
	}
	return &Manager{issuer: issuer, certs: certs, renewBefore: renewBefore, now: time.Now}
}

// Ensure makes sure a valid certificate for domains is stored. The first
// domain names the certificate. force obtains a new one regardless of the
// stored expiry.
func (m *Manager) Ensure(ctx context.Context, domains []string, force bool) (*ManagedCertificate, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains specified")
	}
	primary := domains[0]

	if !force {
		stored, err := m.Inspect(ctx, primary)
		switch {
		case err == nil && stored.NotAfter.Sub(m.now()) > m.renewBefore:
			slog.Info("certificate still valid", "domain", primary, "expires", stored.NotAfter)
			return stored, nil
		case err == nil:
			slog.Info("certificate needs renewal", "domain", primary, "expires_in", stored.NotAfter.Sub(m.now()))
		case errors.Is(err, ErrCertificateNotFound):
		default:
			slog.Warn("stored certificate unreadable, obtaining a new one", "domain", primary, "err", err)
		}
	}

	cert, err := m.issuer.Obtain(domains)
	if err != nil {
		return nil, err
	}
	managed, err := parseCertificate(primary, cert.Certificate)
	if err != nil {
		return nil, err
	}
	if err := m.certs.Store(ctx, primary, cert); err != nil {
		return nil, fmt.Errorf("failed to store certificate: %w", err)
	}
	managed.Renewed = true

	slog.Info("certificate obtained and stored", "domains", domains, "expires", managed.NotAfter)
	return managed, nil
}

// Inspect loads the stored certificate of domain and reports its validity.
func (m *Manager) Inspect(ctx context.Context, domain string) (*ManagedCertificate, error) {
	cert, err := m.certs.Load(ctx, domain)
	if err != nil {
		return nil, err
	}
	return parseCertificate(domain, cert.Certificate)
}

func parseCertificate(domain string, pemChain []byte) (*ManagedCertificate, error) {
	x509Cert, err := certcrypto.ParsePEMCertificate(pemChain)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate for %s: %w", domain, err)
	}
	return &ManagedCertificate{
		Domain:    domain,
		NotBefore: x509Cert.NotBefore,
		NotAfter:  x509Cert.NotAfter,
	}, nil
}
