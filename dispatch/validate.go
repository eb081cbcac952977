package dispatch

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/miekg/dns"

	"jabberwocky238/bindzone/internal/types"
)

var labelRE = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// ValidateDomain checks hostname grammar: dot-separated labels of 1 to 63
// letters, digits and hyphens, no label starting or ending with a hyphen,
// at most 253 characters, optional trailing dot. It returns the name
// normalized.
func ValidateDomain(domain string) (string, error) {
	name := strings.TrimSuffix(domain, ".")
	if name == "" || len(name) > 253 {
		return "", fmt.Errorf("%q: %w", domain, types.ErrInvalidName)
	}
	for _, label := range strings.Split(name, ".") {
		if !labelRE.MatchString(label) {
			return "", fmt.Errorf("%q: %w", domain, types.ErrInvalidName)
		}
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", fmt.Errorf("%q: %w", domain, types.ErrInvalidName)
	}
	return types.NormalizeName(name), nil
}

// ValidateIP parses an IPv4 or IPv6 literal without a zone index and
// returns the record type it belongs in.
func ValidateIP(ip string) (netip.Addr, types.RecordType, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, "", fmt.Errorf("%q: %w", ip, types.ErrInvalidIP)
	}
	if addr.Is4() {
		return addr, types.RecordTypeA, nil
	}
	return addr, types.RecordTypeAAAA, nil
}
