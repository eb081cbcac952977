package zonefile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jabberwocky238/bindzone/internal/types"
)

func TestDocument_Add(t *testing.T) {
	doc := Parse(sampleZone, "example.com")

	rec, err := doc.Add(types.Record{Name: "Foo.Example.com.", Type: types.RecordTypeA, Data: "10.0.0.5"})
	require.NoError(t, err)
	assert.Equal(t, "foo.example.com", rec.FQDN)
	assert.Equal(t, 15, rec.SourceIndex)

	want := sampleZone + "foo.example.com.\tIN\tA\t10.0.0.5\n"
	assert.Equal(t, want, doc.String())

	reparsed := Parse(doc.String(), "example.com")
	got, ok := reparsed.Find(types.ByNameType("foo.example.com", types.RecordTypeA))
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", got.Data)
}

func TestDocument_AddApexAndTTL(t *testing.T) {
	doc := Parse("", "example.com")
	ttl := uint32(60)

	_, err := doc.Add(types.Record{Name: "@", TTL: &ttl, Type: types.RecordTypeTXT, Data: `"token"`})
	require.NoError(t, err)
	assert.Equal(t, "example.com.\t60\tIN\tTXT\t\"token\"\n", doc.String())
}

func TestDocument_AddKeepsLineEndings(t *testing.T) {
	doc := Parse("www IN A 10.0.0.1\r\n", "example.com")
	_, err := doc.Add(types.Record{Name: "api.example.com", Type: types.RecordTypeA, Data: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, "www IN A 10.0.0.1\r\napi.example.com.\tIN\tA\t10.0.0.2\r\n", doc.String())

	doc = Parse("www IN A 10.0.0.1", "example.com")
	_, err = doc.Add(types.Record{Name: "api.example.com", Type: types.RecordTypeA, Data: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, "www IN A 10.0.0.1\napi.example.com.\tIN\tA\t10.0.0.2\n", doc.String())
}

func TestDocument_AddRejects(t *testing.T) {
	tests := []struct {
		name string
		rec  types.Record
		err  error
	}{
		{name: "duplicate", rec: types.Record{Name: "WWW.example.com.", Type: types.RecordTypeA, Data: "10.0.0.2"}, err: types.ErrRecordExists},
		{name: "soa", rec: types.Record{Name: "example.com", Type: types.RecordTypeSOA, Data: "a b 1 2 3 4 5"}, err: types.ErrProtectedRecord},
		{name: "ns", rec: types.Record{Name: "example.com", Type: types.RecordTypeNS, Data: "ns2.example.com."}, err: types.ErrProtectedRecord},
		{name: "unknown type", rec: types.Record{Name: "x.example.com", Type: "BOGUS", Data: "1"}, err: types.ErrInvalidRecordType},
		{name: "empty rdata", rec: types.Record{Name: "x.example.com", Type: types.RecordTypeA, Data: "  "}, err: types.ErrMalformedRequest},
		{name: "multi-line rdata", rec: types.Record{Name: "x.example.com", Type: types.RecordTypeTXT, Data: "\"a\"\n\"b\""}, err: types.ErrMalformedRequest},
		{name: "comment in rdata", rec: types.Record{Name: "x.example.com", Type: types.RecordTypeTXT, Data: "a ; b"}, err: types.ErrMalformedRequest},
		{name: "empty name", rec: types.Record{Name: ".", Type: types.RecordTypeA, Data: "10.0.0.1"}, err: types.ErrInvalidName},
		{name: "bad address", rec: types.Record{Name: "bad.example.com", Type: types.RecordTypeA, Data: "not-an-ip"}, err: types.ErrInvalidIP},
		{name: "v6 in A", rec: types.Record{Name: "x.example.com", Type: types.RecordTypeA, Data: "2001:db8::1"}, err: types.ErrInvalidIP},
		{name: "v4 in AAAA", rec: types.Record{Name: "x.example.com", Type: types.RecordTypeAAAA, Data: "10.0.0.1"}, err: types.ErrInvalidIP},
		{name: "scoped address", rec: types.Record{Name: "x.example.com", Type: types.RecordTypeAAAA, Data: "fe80::1%eth0"}, err: types.ErrInvalidIP},
		{name: "mx without preference", rec: types.Record{Name: "x.example.com", Type: types.RecordTypeMX, Data: "mail.example.com."}, err: types.ErrMalformedRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Parse(sampleZone, "example.com")
			_, err := doc.Add(tt.rec)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, sampleZone, doc.String())
		})
	}
}

func TestDocument_Update(t *testing.T) {
	doc := Parse(sampleZone, "example.com")

	old, updated, err := doc.Update(
		types.Selector{Name: "www.example.com.", Types: []types.RecordType{types.RecordTypeA, types.RecordTypeAAAA}},
		types.RecordFields{Type: types.RecordTypeAAAA, Data: "2001:db8::1"},
	)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", old.Data)
	assert.Equal(t, types.RecordTypeAAAA, updated.Type)

	want := strings.Replace(sampleZone, "www\t300\tIN\tA\t10.0.0.2 ; web", "www\t300\tIN\tAAAA\t2001:db8::1", 1)
	assert.Equal(t, want, doc.String())
}

func TestDocument_UpdateErrors(t *testing.T) {
	doc := Parse(sampleZone, "example.com")

	_, _, err := doc.Update(types.ByNameType("missing.example.com", types.RecordTypeA), types.RecordFields{Data: "10.0.0.9"})
	require.ErrorIs(t, err, types.ErrRecordNotFound)

	_, _, err = doc.Update(types.ByNameType("www.example.com", types.RecordTypeA), types.RecordFields{Type: types.RecordTypeNS})
	require.ErrorIs(t, err, types.ErrProtectedRecord)

	_, _, err = doc.Update(types.ByNameType("www.example.com", types.RecordTypeA), types.RecordFields{Type: types.RecordTypeAAAA})
	require.ErrorIs(t, err, types.ErrInvalidIP)
	_, _, err = doc.Update(types.ByNameType("www.example.com", types.RecordTypeA), types.RecordFields{Data: "10.0.0.256"})
	require.ErrorIs(t, err, types.ErrInvalidIP)
	assert.Equal(t, sampleZone, doc.String())

	_, err = doc.Add(types.Record{Name: "www.example.com", Type: types.RecordTypeA, Data: "10.0.0.3"})
	require.NoError(t, err)
	_, _, err = doc.Update(types.Selector{Name: "www.example.com", Data: "10.0.0.3"}, types.RecordFields{Data: "10.0.0.2"})
	require.ErrorIs(t, err, types.ErrRecordExists)
}

func TestDocument_Delete(t *testing.T) {
	doc := Parse(sampleZone, "example.com")

	removed, err := doc.Delete(types.ByNameType("ns1.example.com", types.RecordTypeA))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", removed.Data)
	assert.Equal(t, strings.Replace(sampleZone, "ns1\tIN\tA\t10.0.0.1\n", "", 1), doc.String())

	www, ok := doc.Find(types.ByNameType("www.example.com", types.RecordTypeA))
	require.True(t, ok)
	assert.Equal(t, 11, www.SourceIndex)

	_, err = doc.Delete(types.ByNameType("ns1.example.com", types.RecordTypeA))
	require.ErrorIs(t, err, types.ErrRecordNotFound)
}

func TestDocument_DeleteFirstMatchOnly(t *testing.T) {
	text := "a IN A 10.0.0.1\na IN A 10.0.0.2\n"
	doc := Parse(text, "example.com")

	_, err := doc.Delete(types.ByNameType("a.example.com", types.RecordTypeA))
	require.NoError(t, err)
	assert.Equal(t, "a IN A 10.0.0.2\n", doc.String())
}

func TestDiff(t *testing.T) {
	before := Parse(sampleZone, "example.com")
	after := before.Clone()

	_, err := after.Add(types.Record{Name: "api.example.com", Type: types.RecordTypeA, Data: "10.0.0.7"})
	require.NoError(t, err)
	_, _, err = after.Update(types.ByNameType("www.example.com", types.RecordTypeA), types.RecordFields{Type: types.RecordTypeAAAA, Data: "2001:db8::2"})
	require.NoError(t, err)
	_, err = after.Delete(types.ByNameType("mail.example.com", types.RecordTypeMX))
	require.NoError(t, err)

	changes := Diff(before, after)
	require.Len(t, changes.Added, 1)
	assert.Equal(t, "api.example.com", changes.Added[0].FQDN)
	require.Len(t, changes.Updated, 1)
	assert.Equal(t, "www.example.com", changes.Updated[0].FQDN)
	require.Len(t, changes.Deleted, 1)
	assert.Equal(t, types.RecordTypeMX, changes.Deleted[0].Type)

	assert.True(t, Diff(before, before.Clone()).Empty())
	// Clone is deep: before is unchanged.
	assert.Equal(t, sampleZone, before.String())
}
