package resolver

import (
	"context"

	"github.com/bobmcallan/folio/internal/cache"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
)

// PriceSource prices symbols from the resolver's cache without network access. The
// last point of the cached (rebased) series is the price, whatever its age.
type PriceSource struct {
	resolved *cache.Cache
}

var _ interfaces.PriceSource = (*PriceSource)(nil)

// NewPriceSource reads from the resolver's resolved-series cache.
func NewPriceSource(resolved *cache.Cache) *PriceSource {
	return &PriceSource{resolved: resolved}
}

// Series returns the cached series of symbol.
func (p *PriceSource) Series(ctx context.Context, symbol string) (*models.PriceSeries, bool) {
	var series models.PriceSeries
	if !p.resolved.GetAny(ctx, NamespaceSeries, normalize(symbol), &series) {
		return nil, false
	}
	return &series, true
}

// LatestPrice returns the last positive point of the cached series.
func (p *PriceSource) LatestPrice(ctx context.Context, symbol string) (float64, bool) {
	series, ok := p.Series(ctx, symbol)
	if !ok {
		return 0, false
	}
	last, ok := series.Last()
	if !ok || last <= 0 {
		return 0, false
	}
	return last, true
}
