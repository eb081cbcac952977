package zonefile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jabberwocky238/bindzone/internal/types"
)

func TestCheck(t *testing.T) {
	res, err := Check([]byte(sampleZone), "example.com", "db.example.com")
	require.NoError(t, err)
	assert.True(t, res.HasSOA)
	assert.Equal(t, uint32(2024010101), res.Serial)
	assert.Equal(t, 6, res.Records)
}

func TestCheck_Failures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "bad address", text: sampleZone + "bad\tIN\tA\tnot-an-ip\n"},
		{name: "missing soa", text: "$ORIGIN example.com.\nwww IN A 10.0.0.1\n"},
		{name: "include refused", text: "$INCLUDE /etc/passwd\n"},
		{name: "unbalanced paren", text: "@ IN SOA ns1 admin ( 1 2 3 4 5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Check([]byte(tt.text), "example.com", "db.example.com")
			require.ErrorIs(t, err, types.ErrZoneCheckFailed)
		})
	}
}

func TestCheck_EditedDocumentStillValid(t *testing.T) {
	doc := Parse(sampleZone, "example.com")
	_, err := doc.Add(types.Record{Name: "api.example.com", Type: types.RecordTypeAAAA, Data: "2001:db8::7"})
	require.NoError(t, err)

	res, err := Check(doc.Bytes(), "example.com", "db.example.com")
	require.NoError(t, err)
	assert.Equal(t, 7, res.Records)
}
