// Package types defines the zone record types, selectors and sentinel
// errors used throughout the bindzone module.
package types

import (
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// RecordType represents a DNS record type mnemonic.
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeAAAA  RecordType = "AAAA"
	RecordTypeCNAME RecordType = "CNAME"
	RecordTypeMX    RecordType = "MX"
	RecordTypeTXT   RecordType = "TXT"
	RecordTypeNS    RecordType = "NS"
	RecordTypeSRV   RecordType = "SRV"
	RecordTypePTR   RecordType = "PTR"
	RecordTypeSOA   RecordType = "SOA"
	RecordTypeCAA   RecordType = "CAA"
)

// ClassIN is the only class written by the store.
const ClassIN = "IN"

// IsValid reports whether the RecordType is a known upper-case RR mnemonic.
func (rt RecordType) IsValid() bool {
	if rt == "" || strings.ToUpper(string(rt)) != string(rt) {
		return false
	}
	_, ok := dns.StringToType[string(rt)]
	return ok
}

// IsAddress reports whether the type carries an IP address.
func (rt RecordType) IsAddress() bool {
	return rt == RecordTypeA || rt == RecordTypeAAAA
}

// IsProtected reports whether records of this type are infrastructure
// records that must never be touched through CRUD.
func (rt RecordType) IsProtected() bool {
	return rt == RecordTypeSOA || rt == RecordTypeNS
}

// LineKind tags a line of a zone document.
type LineKind int

const (
	// LineRaw is opaque passthrough text: blanks, directives, comments,
	// the SOA block, NS records and anything the parser does not recognise.
	LineRaw LineKind = iota
	// LineRecord is a single-line resource record exposed through CRUD.
	LineRecord
)

func (k LineKind) String() string {
	if k == LineRecord {
		return "record"
	}
	return "raw"
}

// Record is a resource record parsed from (or destined for) one zone line.
type Record struct {
	Name        string     `json:"name" yaml:"name"`                   // owner as written, or FQDN for new records
	FQDN        string     `json:"fqdn" yaml:"fqdn"`                   // lower-case, no trailing dot
	TTL         *uint32    `json:"ttl,omitempty" yaml:"ttl,omitempty"` // nil when the line carries no TTL
	Class       string     `json:"class" yaml:"class"`
	Type        RecordType `json:"type" yaml:"type"`
	Data        string     `json:"data" yaml:"data"`
	SourceIndex int        `json:"source_index" yaml:"source_index"`
}

// Key returns the uniqueness key (name, type, rdata) of the record.
func (r Record) Key() RecordKey {
	return RecordKey{Name: r.FQDN, Type: r.Type, Data: NormalizeData(r.Type, r.Data)}
}

// String renders the record the way it is written back to a zone file.
func (r Record) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	b.WriteByte('\t')
	if r.TTL != nil {
		b.WriteString(strconv.FormatUint(uint64(*r.TTL), 10))
		b.WriteByte('\t')
	}
	class := r.Class
	if class == "" {
		class = ClassIN
	}
	b.WriteString(class)
	b.WriteByte('\t')
	b.WriteString(string(r.Type))
	b.WriteByte('\t')
	b.WriteString(r.Data)
	return b.String()
}

// RecordKey uniquely identifies a record inside one zone document.
type RecordKey struct {
	Name string
	Type RecordType
	Data string
}

// Selector picks an existing record by owner name and one of several types.
// When Data is set only records with equal rdata match.
type Selector struct {
	Name  string
	Types []RecordType
	Data  string
}

// ByNameType builds a selector for a single (name, type) pair.
func ByNameType(name string, rt RecordType) Selector {
	return Selector{Name: name, Types: []RecordType{rt}}
}

// Matches reports whether the record satisfies the selector.
func (s Selector) Matches(r Record) bool {
	if r.FQDN != NormalizeName(s.Name) {
		return false
	}
	if len(s.Types) > 0 {
		found := false
		for _, t := range s.Types {
			if r.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.Data != "" && NormalizeData(r.Type, r.Data) != NormalizeData(r.Type, s.Data) {
		return false
	}
	return true
}

// RecordFields carries the replacement values for an update. Zero values
// keep the existing field.
type RecordFields struct {
	Type RecordType
	TTL  *uint32
	Data string
}

// NormalizeName lower-cases a domain name and strips the trailing dot.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}

// NormalizeData collapses whitespace in rdata. Everything except TXT is
// compared case-insensitively.
func NormalizeData(rt RecordType, data string) string {
	data = strings.Join(strings.Fields(data), " ")
	if rt == RecordTypeTXT {
		return data
	}
	return strings.ToLower(data)
}

// DomainEntry is the list view of an address record.
type DomainEntry struct {
	Domain string     `json:"domain"`
	Type   RecordType `json:"type"`
	IP     string     `json:"ip"`
}

// Changes describes how a mutation altered the records of a document.
type Changes struct {
	Added   []Record
	Updated []Record
	Deleted []Record
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}
