package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAndRead(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "textfile", "folio.prom")
	require.NoError(t, WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestWriteTextfile(t *testing.T) {
	TargetLines.Set(7)
	assert.Contains(t, writeAndRead(t), "folio_target_lines 7")
}

func TestSetRiskStatusIsExclusive(t *testing.T) {
	SetRiskStatus("YELLOW")
	out := writeAndRead(t)
	assert.Contains(t, out, `folio_risk_status{status="YELLOW"} 1`)
	assert.Contains(t, out, `folio_risk_status{status="GREEN"} 0`)

	SetRiskStatus("RED")
	out = writeAndRead(t)
	assert.Contains(t, out, `folio_risk_status{status="YELLOW"} 0`)
	assert.Contains(t, out, `folio_risk_status{status="RED"} 1`)
}

func TestWriteTextfileDisabled(t *testing.T) {
	assert.NoError(t, WriteTextfile(""))
}
