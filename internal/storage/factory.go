// Package storage selects the ledger persistence backend.
package storage

import (
	"fmt"
	"path/filepath"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/storage/ledgerdb"
	"github.com/bobmcallan/folio/internal/storage/ledgerfs"
)

// Backend type constants.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// LedgerDBFile is the database file name used by the sqlite backend.
const LedgerDBFile = "ledger.db"

// NewLedgerStore creates a ledger store based on the configuration.
// Supported backends: "file" (default), "sqlite".
func NewLedgerStore(logger *common.Logger, config *common.Config) (interfaces.LedgerStore, error) {
	dir := config.Ledger.Path
	if !filepath.IsAbs(dir) {
		dir = config.DataPath(dir)
	}

	switch config.Ledger.Backend {
	case BackendFile, "":
		return ledgerfs.NewStore(logger, dir)
	case BackendSQLite:
		return ledgerdb.NewStore(logger, filepath.Join(dir, LedgerDBFile))
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s (supported: file, sqlite)", config.Ledger.Backend)
	}
}
