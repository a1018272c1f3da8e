// Package interfaces defines service contracts for Folio
package interfaces

import (
	"context"

	"github.com/bobmcallan/folio/internal/models"
)

// SeriesProvider fetches a daily close series for one identifier from one upstream.
// A nil error with an empty series means the upstream has no data for the identifier.
// Errors wrapping common.ErrRateLimited signal a quota refusal; any other error is a
// hard failure of that call.
type SeriesProvider interface {
	// Name returns the provider key used in configuration ("yahoo", "stooq", ...)
	Name() string

	// FetchSeries returns the close series rebased to 100
	FetchSeries(ctx context.Context, symbol string, params models.SeriesParams) (*models.PriceSeries, error)
}

// SymbolSearcher resolves a keyword or ticker into candidate listings.
type SymbolSearcher interface {
	Name() string
	Search(ctx context.Context, query string) ([]models.SymbolMatch, error)
}
