package zonefile

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jabberwocky238/bindzone/internal/types"
)

const sampleZone = `$TTL 86400
$ORIGIN example.com.
@	IN	SOA	ns1.example.com. admin.example.com. (
		2024010101 ; serial
		3600
		1800
		604800
		86400 )
@	IN	NS	ns1.example.com.

; hosts
ns1	IN	A	10.0.0.1
www	300	IN	A	10.0.0.2 ; web
mail	IN	MX	10 mail.example.com.
	IN	A	10.0.0.9
`

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "single newline", text: "\n"},
		{name: "sample zone", text: sampleZone},
		{name: "no trailing newline", text: "www IN A 10.0.0.1"},
		{name: "crlf", text: "www IN A 10.0.0.1\r\nmail IN MX 10 mx.example.com.\r\n"},
		{name: "blank lines kept", text: "\n\n\nwww IN A 10.0.0.1\n\n"},
		{name: "garbage", text: "this is not ( a zone\n\t}}}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Parse(tt.text, "example.com")
			assert.Equal(t, tt.text, doc.String())
			assert.Equal(t, tt.text, string(doc.Clone().Bytes()))
		})
	}
}

func TestParse_Classification(t *testing.T) {
	doc := Parse(sampleZone, "example.com")

	var kinds []types.LineKind
	for _, l := range doc.Lines() {
		kinds = append(kinds, l.Kind)
	}
	raw, rec := types.LineRaw, types.LineRecord
	assert.Equal(t, []types.LineKind{
		raw, raw, // $TTL, $ORIGIN
		raw, raw, raw, raw, raw, raw, // SOA block
		raw,      // NS
		raw, raw, // blank, comment
		rec, rec, rec,
		raw, // owner inherited from previous line
	}, kinds)

	records := slices.Collect(doc.Records())
	require.Len(t, records, 3)

	assert.Equal(t, "ns1.example.com", records[0].FQDN)
	assert.Nil(t, records[0].TTL)
	assert.Equal(t, types.RecordTypeA, records[0].Type)

	assert.Equal(t, "www", records[1].Name)
	require.NotNil(t, records[1].TTL)
	assert.Equal(t, uint32(300), *records[1].TTL)
	assert.Equal(t, "10.0.0.2", records[1].Data)
	assert.Equal(t, 12, records[1].SourceIndex)

	assert.Equal(t, types.RecordTypeMX, records[2].Type)
	assert.Equal(t, "10 mail.example.com.", records[2].Data)
}

func TestParse_RecordForms(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		fqdn   string
		rtype  types.RecordType
		data   string
		record bool
	}{
		{name: "class before ttl", line: "www IN 60 A 10.0.0.1", fqdn: "www.example.com", rtype: types.RecordTypeA, data: "10.0.0.1", record: true},
		{name: "ttl units", line: "www 1h30m A 10.0.0.1", fqdn: "www.example.com", rtype: types.RecordTypeA, data: "10.0.0.1", record: true},
		{name: "absolute owner", line: "Host.Other.org. IN CNAME www.example.com.", fqdn: "host.other.org", rtype: types.RecordTypeCNAME, data: "www.example.com.", record: true},
		{name: "apex", line: "@ IN TXT \"v=spf1 -all\"", fqdn: "example.com", rtype: types.RecordTypeTXT, data: `"v=spf1 -all"`, record: true},
		{name: "lower-case type", line: "www in aaaa 2001:db8::1", fqdn: "www.example.com", rtype: types.RecordTypeAAAA, data: "2001:db8::1", record: true},
		{name: "semicolon in quoted txt", line: `t IN TXT "a;b" ; note`, fqdn: "t.example.com", rtype: types.RecordTypeTXT, data: `"a;b"`, record: true},
		{name: "ns is infrastructure", line: "sub IN NS ns1.sub.example.com.", record: false},
		{name: "soa on one line", line: "@ IN SOA ns1 admin 1 2 3 4 5", record: false},
		{name: "soa as rdata", line: "info TXT SOA", fqdn: "info.example.com", rtype: types.RecordTypeTXT, data: "SOA", record: true},
		{name: "unknown type", line: "www IN BOGUS 1", record: false},
		{name: "missing rdata", line: "www IN A", record: false},
		{name: "leading whitespace", line: " www IN A 10.0.0.1", record: false},
		{name: "comment", line: "; www IN A 10.0.0.1", record: false},
		{name: "directive", line: "$INCLUDE other.zone", record: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Parse(tt.line+"\n", "example.com")
			records := slices.Collect(doc.Records())
			if !tt.record {
				assert.Empty(t, records)
				return
			}
			require.Len(t, records, 1)
			assert.Equal(t, tt.fqdn, records[0].FQDN)
			assert.Equal(t, tt.rtype, records[0].Type)
			assert.Equal(t, tt.data, records[0].Data)
		})
	}
}

func TestParse_OriginDirective(t *testing.T) {
	text := "a IN A 10.0.0.1\n$ORIGIN sub.example.com.\nb IN A 10.0.0.2\n$ORIGIN deeper\nc IN A 10.0.0.3\n"
	doc := Parse(text, "example.com.")

	var names []string
	for r := range doc.Records() {
		names = append(names, r.FQDN)
	}
	assert.Equal(t, []string{"a.example.com", "b.sub.example.com", "c.deeper.sub.example.com"}, names)
}

func TestRecords_FilterAndEarlyStop(t *testing.T) {
	doc := Parse(sampleZone, "example.com")

	mx := slices.Collect(doc.Records(types.RecordTypeMX))
	require.Len(t, mx, 1)
	assert.Equal(t, "mail.example.com", mx[0].FQDN)

	n := 0
	for range doc.Records() {
		n++
		break
	}
	assert.Equal(t, 1, n)

	// The sequence is restartable.
	assert.Len(t, slices.Collect(doc.Records()), 3)
}
