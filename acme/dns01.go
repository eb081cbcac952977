package acme

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/registration"

	"jabberwocky238/bindzone/internal/types"
	"jabberwocky238/bindzone/storage"
)

// Zones finds the zone engine that holds a name.
type Zones interface {
	ForName(name string) (*storage.Engine, error)
}

// DNS01Provider implements the lego DNS-01 provider by writing the
// challenge TXT record into the zone file that holds the domain.
type DNS01Provider struct {
	zones           Zones
	propagationWait time.Duration
	opTimeout       time.Duration
}

var _ challenge.ProviderTimeout = (*DNS01Provider)(nil)

// NewDNS01Provider creates a new DNS-01 challenge provider.
func NewDNS01Provider(zones Zones) *DNS01Provider {
	return &DNS01Provider{
		zones:           zones,
		propagationWait: DefaultPropagationWait,
		opTimeout:       storage.DefaultReloadTimeout + 15*time.Second,
	}
}

// Present adds the TXT record for the challenge. Concurrent challenges for
// the same name (a certificate for example.com and *.example.com) each get
// their own record.
func (p *DNS01Provider) Present(domain, token, keyAuth string) error {
	info := dns01.GetChallengeInfo(domain, keyAuth)
	fqdn := normalizeFQDN(info.FQDN)

	zone, err := p.zones.ForName(fqdn)
	if err != nil {
		return fmt.Errorf("no zone for DNS-01 challenge record %s: %w", fqdn, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opTimeout)
	defer cancel()

	ttl := uint32(ChallengeTTL)
	_, err = zone.Add(ctx, types.Record{
		Name: fqdn,
		TTL:  &ttl,
		Type: types.RecordTypeTXT,
		Data: quoteTXT(info.Value),
	})
	switch {
	case errors.Is(err, types.ErrRecordExists):
		slog.Info("DNS-01 challenge record already present", "fqdn", fqdn)
	case err != nil:
		return fmt.Errorf("failed to create DNS-01 challenge record: %w", err)
	default:
		slog.Info("created DNS-01 challenge record", "fqdn", fqdn, "zone", zone.Zone())
	}

	p.waitForPropagation(domain)
	return nil
}

// waitForPropagation waits for DNS propagation with exponential backoff logging.
// Logs at intervals: 1s, 2s, 4s, 8s, 8s, 8s... until total wait time is reached.
func (p *DNS01Provider) waitForPropagation(domain string) {
	totalWait := p.propagationWait
	if totalWait <= 0 {
		return
	}
	elapsed := time.Duration(0)
	interval := min(time.Second, totalWait)
	maxInterval := 8 * time.Second

	slog.Info("waiting for DNS record propagation", "domain", domain, "total_wait", totalWait)

	for elapsed < totalWait {
		step := min(interval, totalWait-elapsed)
		time.Sleep(step)
		elapsed += step

		if elapsed < totalWait {
			slog.Debug("DNS propagation in progress", "domain", domain, "elapsed", elapsed, "remaining", totalWait-elapsed)
		}
		interval = min(interval*2, maxInterval)
	}
}

// CleanUp removes the TXT record of this challenge, leaving records of
// other in-flight challenges for the same name alone.
func (p *DNS01Provider) CleanUp(domain, token, keyAuth string) error {
	info := dns01.GetChallengeInfo(domain, keyAuth)
	fqdn := normalizeFQDN(info.FQDN)

	zone, err := p.zones.ForName(fqdn)
	if err != nil {
		return fmt.Errorf("no zone for DNS-01 challenge record %s: %w", fqdn, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opTimeout)
	defer cancel()

	sel := types.Selector{Name: fqdn, Types: []types.RecordType{types.RecordTypeTXT}, Data: quoteTXT(info.Value)}
	if _, err := zone.Delete(ctx, sel); err != nil && !errors.Is(err, types.ErrRecordNotFound) {
		return fmt.Errorf("failed to cleanup DNS-01 challenge record: %w", err)
	}
	return nil
}

// Timeout returns the timeout and interval to use when checking for DNS propagation.
func (p *DNS01Provider) Timeout() (timeout, interval time.Duration) {
	return 2 * time.Minute, 2 * time.Second
}

// Sequential returns whether challenges should be run sequentially.
func (p *DNS01Provider) Sequential() bool {
	return false
}

// SetPropagationWait sets the wait time for DNS propagation.
func (p *DNS01Provider) SetPropagationWait(wait time.Duration) {
	p.propagationWait = wait
}

// User implements the lego User interface for ACME registration.
type User struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

// GetEmail returns the user's email.
func (u *User) GetEmail() string {
	return u.Email
}

// GetRegistration returns the user's registration resource.
func (u *User) GetRegistration() *registration.Resource {
	return u.Registration
}

// GetPrivateKey returns the user's private key.
func (u *User) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// normalizeFQDN maps _acme-challenge.*.example.com. to
// _acme-challenge.example.com., where validation of *.example.com looks.
func normalizeFQDN(fqdn string) string {
	if rest, ok := strings.CutPrefix(fqdn, "_acme-challenge.*."); ok {
		return "_acme-challenge." + rest
	}
	return fqdn
}

func quoteTXT(value string) string {
	return `"` + value + `"`
}
