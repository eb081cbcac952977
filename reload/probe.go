package reload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miekg/dns"

	"jabberwocky238/bindzone/internal/types"
)

// ProbeConfig holds configuration for the SOA probe.
type ProbeConfig struct {
	Server   string        // authoritative server address, e.g. "127.0.0.1:53"
	Attempts int           // queries before giving up
	Interval time.Duration // pause between attempts
	Timeout  time.Duration // per-query timeout
}

// DefaultProbeConfig returns a ProbeConfig with sensible defaults.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Server:   "127.0.0.1:53",
		Attempts: 5,
		Interval: 500 * time.Millisecond,
		Timeout:  2 * time.Second,
	}
}

// SOAProbe verifies a reload by asking the server for the zone's SOA and
// waiting until it serves the serial that was written.
type SOAProbe struct {
	config ProbeConfig
	client *dns.Client
}

// NewSOAProbe creates a new SOAProbe with the given configuration.
func NewSOAProbe(cfg ProbeConfig) *SOAProbe {
	def := DefaultProbeConfig()
	if cfg.Server == "" {
		cfg.Server = def.Server
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &SOAProbe{
		config: cfg,
		client: &dns.Client{
			Net:     "udp",
			Timeout: cfg.Timeout,
		},
	}
}

// Reload queries until the server answers authoritatively with a serial at
// least as new as serial. A serial of 0 only requires an authoritative
// NOERROR answer.
func (p *SOAProbe) Reload(ctx context.Context, zone string, serial uint32) error {
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(zone), dns.TypeSOA)
	query.RecursionDesired = false

	var last string
	for attempt := 1; attempt <= p.config.Attempts; attempt++ {
		got, err := p.query(ctx, query)
		switch {
		case err != nil:
			last = err.Error()
		case serial == 0 || serialAtLeast(got, serial):
			slog.Debug("soa probe confirmed reload", "zone", zone, "serial", got, "attempt", attempt)
			return nil
		default:
			last = fmt.Sprintf("server has serial %d, want %d", got, serial)
		}

		if attempt == p.config.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: soa probe %s: %v (last: %s)", types.ErrReloadFailed, p.config.Server, ctx.Err(), last)
		case <-time.After(p.config.Interval):
		}
	}
	return fmt.Errorf("%w: soa probe %s: %s", types.ErrReloadFailed, p.config.Server, last)
}

func (p *SOAProbe) query(ctx context.Context, query *dns.Msg) (uint32, error) {
	resp, _, err := p.client.ExchangeContext(ctx, query, p.config.Server)
	if err != nil {
		return 0, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return 0, fmt.Errorf("server answered %s", dns.RcodeToString[resp.Rcode])
	}
	if !resp.Authoritative {
		return 0, fmt.Errorf("server is not authoritative for %s", query.Question[0].Name)
	}
	for _, rr := range resp.Answer {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa.Serial, nil
		}
	}
	return 0, fmt.Errorf("no SOA in answer")
}

// serialAtLeast compares serials using RFC 1982 arithmetic.
func serialAtLeast(got, want uint32) bool {
	return got == want || int32(got-want) > 0
}
