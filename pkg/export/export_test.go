package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "XP history",
		Headers: []string{"id", "amount", "reason"},
		Rows: []map[string]string{
			{"id": "e-1", "amount": "50", "reason": "request-approval"},
			{"id": "e-2", "amount": "-10", "reason": "manual-adjustment"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, "id,amount,reason\ne-1,50,request-approval\ne-2,-10,manual-adjustment\n", string(out))
}

func TestCSVExporterNeutralizesFormulas(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"amount", "note"},
		Rows: []map[string]string{
			{"amount": "-25", "note": "=HYPERLINK(\"http://x\")"},
			{"amount": "+5", "note": "@sum"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "amount,note\n-25,\"'=HYPERLINK(\"\"http://x\"\")\"\n+5,'@sum\n", string(out))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
