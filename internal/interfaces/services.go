package interfaces

import (
	"context"

	"github.com/bobmcallan/folio/internal/models"
)

// SeriesResolver turns a logical symbol into a price series, trying alternative
// identifiers and sources. The only error it returns is context cancellation; an
// unresolvable symbol yields an empty series tagged with the requested symbol.
type SeriesResolver interface {
	Resolve(ctx context.Context, symbol string) (*models.PriceSeries, error)
}

// PriceSource gives the ledger the latest known price of a symbol without any network call.
type PriceSource interface {
	// LatestPrice returns false when no usable price is cached
	LatestPrice(ctx context.Context, symbol string) (float64, bool)

	// Series returns the cached series regardless of its age
	Series(ctx context.Context, symbol string) (*models.PriceSeries, bool)
}

// AllocationEngine converts scored sector candidates into target weights.
type AllocationEngine interface {
	Allocate(sectors []models.SectorAllocation) *models.AllocationResult
}

// RiskEvaluator grades the shape of a target allocation.
type RiskEvaluator interface {
	Evaluate(target []models.TargetLine) *models.RiskAssessment
}

// LedgerService maintains the virtual account across cycles.
type LedgerService interface {
	Init(ctx context.Context, initialCash float64, asOf string) (bool, error)
	MarkToMarket(ctx context.Context, asOf string) (*models.Valuation, error)
	Rebalance(ctx context.Context, target []models.TargetLine, asOf string) (*models.RebalanceResult, error)
	State(ctx context.Context) (*models.LedgerState, error)
}
