package interfaces

import (
	"context"

	"github.com/bobmcallan/folio/internal/models"
)

// KVStore is a namespaced key to bytes store. Writes are atomic per key.
type KVStore interface {
	// Get returns common.ErrNotFound (wrapped) for absent keys
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, data []byte) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) ([]string, error)

	// Quarantine moves a record that failed to decode out of the namespace so it is
	// neither read again nor silently overwritten.
	Quarantine(ctx context.Context, namespace, key, reason string) error

	// DataPath returns the root directory of the store
	DataPath() string
}

// LedgerStore persists the virtual account. Trades and NAV rows are append-only.
type LedgerStore interface {
	// Exists reports whether the ledger has been initialised
	Exists(ctx context.Context) (bool, error)

	LoadPositions(ctx context.Context) (models.Positions, error)
	SavePositions(ctx context.Context, positions models.Positions) error

	AppendTrades(ctx context.Context, trades []models.TradeRecord) error
	Trades(ctx context.Context) ([]models.TradeRecord, error)

	AppendNav(ctx context.Context, row models.NavRecord) error
	NavHistory(ctx context.Context) ([]models.NavRecord, error)

	// LastNav returns nil when no NAV row exists
	LastNav(ctx context.Context) (*models.NavRecord, error)

	Close() error
}
