package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintBanner(t *testing.T) {
	config := NewDefaultConfig()
	config.Storage.Path = "/srv/folio/data"
	config.Sectors = []SectorConfig{{Name: "tech", Symbols: []string{"CAP.PA", "STM.PA"}}}

	var buf bytes.Buffer
	PrintBanner(&buf, config, NewSilentLogger())

	out := buf.String()
	assert.Contains(t, out, "/srv/folio/data")
	assert.Contains(t, out, "0 6 * * 1 (Europe/Paris)")
	assert.Contains(t, out, "1 (2 symbols)")

	buf.Reset()
	PrintShutdownBanner(&buf, NewSilentLogger())
	assert.Contains(t, buf.String(), "SHUTTING DOWN")
}
