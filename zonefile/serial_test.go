package zonefile

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jabberwocky238/bindzone/internal/types"
)

func TestNextSerial(t *testing.T) {
	today := time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		current uint32
		want    uint32
		err     error
	}{
		{name: "same day increments", current: 2024011501, want: 2024011502},
		{name: "same day counter zero", current: 2024011500, want: 2024011501},
		{name: "same day last free slot", current: 2024011598, want: 2024011599},
		{name: "same day exhausted", current: 2024011599, err: types.ErrSerialOverflow},
		{name: "earlier day resets", current: 2024011407, want: 2024011501},
		{name: "plain counter resets", current: 5, want: 2024011501},
		{name: "future serial resets", current: 2030010101, want: 2024011501},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextSerial(tt.current, today)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocument_Serial(t *testing.T) {
	doc := Parse(sampleZone, "example.com")

	serial, ok := doc.Serial()
	require.True(t, ok)
	assert.Equal(t, uint32(2024010101), serial)

	require.True(t, doc.SetSerial(2024010102))
	want := strings.Replace(sampleZone, "2024010101 ; serial", "2024010102 ; serial", 1)
	assert.Equal(t, want, doc.String())
}

func TestDocument_SerialSingleLineSOA(t *testing.T) {
	text := "@ 3600 IN SOA ns1 admin 7 3600 1800 604800 86400 ; soa\nwww IN A 10.0.0.1\n"
	doc := Parse(text, "example.com")

	old, next, ok, err := doc.BumpSerial(time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), old)
	assert.Equal(t, uint32(2024030201), next)
	assert.Equal(t, strings.Replace(text, " 7 ", " 2024030201 ", 1), doc.String())
}

func TestDocument_SerialParenOnNextLine(t *testing.T) {
	text := "@ IN SOA ns1.example.com. admin.example.com.\n\t(\n\t2024010105\n\t1 2 3 4 )\n"
	doc := Parse(text, "example.com")

	serial, ok := doc.Serial()
	require.True(t, ok)
	assert.Equal(t, uint32(2024010105), serial)
}

func TestDocument_SerialIgnoresSOAInRdata(t *testing.T) {
	text := "info TXT SOA\n" +
		"note IN TXT ( \"multi\"\n\tSOA )\n" +
		"@ IN SOA ns1 admin ( 2026101505 3600 1800 604800 86400 )\n"
	doc := Parse(text, "example.com")

	serial, ok := doc.Serial()
	require.True(t, ok)
	assert.Equal(t, uint32(2026101505), serial)

	info, ok := doc.Find(types.ByNameType("info.example.com", types.RecordTypeTXT))
	require.True(t, ok)
	assert.Equal(t, "SOA", info.Data)

	_, next, ok, err := doc.BumpSerial(time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2026101506), next)
	assert.Equal(t, strings.Replace(text, "2026101505", "2026101506", 1), doc.String())
}

func TestDocument_BumpSerialWithoutSOA(t *testing.T) {
	text := "www IN A 10.0.0.1\n"
	doc := Parse(text, "example.com")

	_, _, ok, err := doc.BumpSerial(time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, text, doc.String())
}

func TestDocument_BumpSerialOverflow(t *testing.T) {
	text := "@ IN SOA ns1 admin ( 2024010199 1 2 3 4 )\n"
	doc := Parse(text, "example.com")

	_, _, ok, err := doc.BumpSerial(time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.ErrorIs(t, err, types.ErrSerialOverflow)
	assert.Equal(t, text, doc.String())
}
