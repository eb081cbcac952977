package acme

import (
	"fmt"
	"regexp"
	"strings"
)

// Certificates are stored under a name derived from their first domain:
//
//	api.example.com  → tls-normal--api.example.com
//	*.example.com    → tls-wildcard--example.com
//
// Names stay valid DNS-1123 subdomains, as Kubernetes requires for Secrets.
// The mapping is reversible so stored certificates can be listed by domain.
const (
	secretPrefixNormal   = "tls-normal--"
	secretPrefixWildcard = "tls-wildcard--"

	// DNS-1123 subdomain limit for Kubernetes object names.
	maxSecretNameLength = 253
)

var (
	domainRegex     = regexp.MustCompile(`^(\*\.)?([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)*[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	secretNameRegex = regexp.MustCompile(`^tls-(normal|wildcard)--[a-z0-9.-]+$`)
)

// DomainToSecret converts a certificate domain to its storage name.
func DomainToSecret(domain string) (string, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if !isValidDomain(domain) {
		return "", fmt.Errorf("invalid certificate domain %q", domain)
	}

	name := secretPrefixNormal + domain
	if rest, ok := strings.CutPrefix(domain, "*."); ok {
		name = secretPrefixWildcard + rest
	}
	if len(name) > maxSecretNameLength {
		return "", fmt.Errorf("secret name too long (%d > %d): %s", len(name), maxSecretNameLength, name)
	}
	return name, nil
}

// SecretToDomain reverses DomainToSecret.
func SecretToDomain(secretName string) (string, error) {
	if len(secretName) > maxSecretNameLength || !secretNameRegex.MatchString(secretName) {
		return "", fmt.Errorf("secret name does not match naming convention: %q", secretName)
	}

	domain := strings.TrimPrefix(secretName, secretPrefixNormal)
	if rest, ok := strings.CutPrefix(secretName, secretPrefixWildcard); ok {
		domain = "*." + rest
	}
	if !isValidDomain(domain) {
		return "", fmt.Errorf("recovered domain is invalid: %s", domain)
	}
	return domain, nil
}

func isValidDomain(domain string) bool {
	if domain == "" || strings.Contains(domain, "..") {
		return false
	}
	return domainRegex.MatchString(domain)
}
