// Package ledger maintains the virtual account and rebalances it towards a target
package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/metrics"
	"github.com/bobmcallan/folio/internal/models"
)

// MinTradeQty is the smallest quantity change that produces a trade.
const MinTradeQty = 1e-6

// BaselineBenchmark is the benchmark index value when no benchmark series is known.
const BaselineBenchmark = 100.0

// Service implements LedgerService over a LedgerStore. Prices come from the
// PriceSource, so the ledger never touches the network. It is the only writer of
// the ledger; callers serialize cycles with the run lock.
type Service struct {
	store     interfaces.LedgerStore
	prices    interfaces.PriceSource
	benchmark string
	logger    *common.Logger
}

var _ interfaces.LedgerService = (*Service)(nil)

// NewService creates a new ledger service
func NewService(store interfaces.LedgerStore, prices interfaces.PriceSource, benchmark string, logger *common.Logger) *Service {
	return &Service{
		store:     store,
		prices:    prices,
		benchmark: benchmark,
		logger:    logger,
	}
}

// Init creates the ledger with initialCash and a baseline NAV row. It reports
// false and changes nothing when the ledger already exists.
func (s *Service) Init(ctx context.Context, initialCash float64, asOf string) (bool, error) {
	exists, err := s.store.Exists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		s.logger.Debug().Msg("Ledger already initialised")
		return false, nil
	}
	if initialCash < 0 || math.IsNaN(initialCash) || math.IsInf(initialCash, 0) {
		return false, fmt.Errorf("%w: initial cash must be a non-negative number, got %v", common.ErrConfigInvalid, initialCash)
	}

	if err := s.store.SavePositions(ctx, models.Positions{}); err != nil {
		return false, err
	}
	baseline := models.NavRecord{
		Date:      asOf,
		NAV:       initialCash,
		Cash:      initialCash,
		Value:     0,
		Benchmark: BaselineBenchmark,
	}
	if err := s.store.AppendNav(ctx, baseline); err != nil {
		return false, err
	}
	metrics.LedgerNAV.Set(initialCash)
	s.logger.Info().Float64("cash", initialCash).Str("as_of", asOf).Msg("Ledger initialised")
	return true, nil
}

// State returns the current positions and the cash of the last NAV row.
func (s *Service) State(ctx context.Context) (*models.LedgerState, error) {
	positions, err := s.store.LoadPositions(ctx)
	if err != nil {
		return nil, err
	}
	if positions == nil {
		positions = models.Positions{}
	}
	cash, err := s.cash(ctx)
	if err != nil {
		return nil, err
	}
	return &models.LedgerState{Positions: positions, Cash: cash}, nil
}

// MarkToMarket values the positions at their latest cached price. A symbol with no
// price is valued at zero and listed in Unpriced. Nothing is written.
func (s *Service) MarkToMarket(ctx context.Context, asOf string) (*models.Valuation, error) {
	state, err := s.State(ctx)
	if err != nil {
		return nil, err
	}

	value, unpriced := s.value(ctx, state.Positions)
	if len(unpriced) > 0 {
		s.logger.Warn().Strs("symbols", unpriced).Msg("Positions without a cached price valued at zero")
	}

	valuation := &models.Valuation{
		NavRecord: models.NavRecord{
			Date:      asOf,
			NAV:       state.Cash + value,
			Cash:      state.Cash,
			Value:     value,
			Benchmark: s.benchmarkIndex(ctx),
		},
		Unpriced: unpriced,
	}
	metrics.LedgerNAV.Set(valuation.NAV)
	return valuation, nil
}

// Rebalance trades the ledger towards target at the latest cached prices. Held
// symbols absent from target are liquidated. A symbol without a price is skipped
// for this cycle and its position is left unchanged. Trades carry no cost.
func (s *Service) Rebalance(ctx context.Context, target []models.TargetLine, asOf string) (*models.RebalanceResult, error) {
	state, err := s.State(ctx)
	if err != nil {
		return nil, err
	}
	positions := state.Positions
	cash := state.Cash
	result := &models.RebalanceResult{Trades: []models.TradeRecord{}}

	prices := make(map[string]float64)
	priceOf := func(symbol string) (float64, bool) {
		if px, ok := prices[symbol]; ok {
			return px, px > 0
		}
		px, ok := s.prices.LatestPrice(ctx, symbol)
		if !ok {
			px = 0
		}
		prices[symbol] = px
		return px, ok
	}

	var value float64
	for _, symbol := range positions.Symbols() {
		if px, ok := priceOf(symbol); ok {
			value += positions[symbol] * px
		}
	}
	equity := cash + value
	if equity <= 0 {
		s.logger.Warn().Float64("cash", cash).Float64("value", value).Msg("Ledger has no equity, nothing to rebalance")
		return result, nil
	}

	weights := make(map[string]float64, len(target))
	for _, l := range target {
		weights[l.Symbol] += l.Weight
	}

	symbols := unionSymbols(weights, positions)
	skipped := make(map[string]bool)
	for _, symbol := range symbols {
		px, ok := priceOf(symbol)
		if !ok {
			skipped[symbol] = true
			continue
		}

		weight, inTarget := weights[symbol]
		desired := 0.0
		reason := models.ReasonLiquidate
		if inTarget {
			desired = equity * weight / px
			reason = models.ReasonRebalance
		}

		current := positions[symbol]
		delta := desired - current
		if math.Abs(delta) < MinTradeQty {
			continue
		}

		trade := models.TradeRecord{
			Date:     asOf,
			Symbol:   symbol,
			DeltaQty: delta,
			Price:    px,
			Value:    delta * px,
			Reason:   reason,
		}
		cash -= trade.Value
		if held := current + delta; math.Abs(held) < MinTradeQty {
			delete(positions, symbol)
		} else {
			positions[symbol] = held
		}
		result.Trades = append(result.Trades, trade)
	}

	for symbol := range skipped {
		result.Skipped = append(result.Skipped, symbol)
	}
	sort.Strings(result.Skipped)
	if len(result.Skipped) > 0 {
		metrics.SkippedSymbolsTotal.Add(float64(len(result.Skipped)))
		s.logger.Warn().Strs("symbols", result.Skipped).Msg("Symbols without a cached price skipped this cycle")
	}

	if len(result.Trades) > 0 {
		if err := s.store.SavePositions(ctx, positions); err != nil {
			return nil, err
		}
		if err := s.store.AppendTrades(ctx, result.Trades); err != nil {
			return nil, err
		}
		for _, t := range result.Trades {
			metrics.TradesTotal.WithLabelValues(t.Reason).Inc()
		}
	}

	newValue, _ := s.value(ctx, positions)
	nav := models.NavRecord{
		Date:      asOf,
		NAV:       cash + newValue,
		Cash:      cash,
		Value:     newValue,
		Benchmark: s.benchmarkIndex(ctx),
	}
	if err := s.appendNavOnce(ctx, nav); err != nil {
		return nil, err
	}
	result.Nav = &nav
	metrics.LedgerNAV.Set(nav.NAV)

	s.logger.Info().Int("trades", len(result.Trades)).Int("skipped", len(result.Skipped)).
		Float64("nav", nav.NAV).Float64("cash", nav.Cash).Str("as_of", asOf).Msg("Ledger rebalanced")
	return result, nil
}

// appendNavOnce appends row unless the last NAV row already records it, which
// keeps a repeated run with unchanged inputs from growing the history.
func (s *Service) appendNavOnce(ctx context.Context, row models.NavRecord) error {
	last, err := s.store.LastNav(ctx)
	if err != nil {
		return err
	}
	if last != nil && sameNav(*last, row) {
		s.logger.Debug().Str("date", row.Date).Msg("NAV row unchanged, not appended")
		return nil
	}
	return s.store.AppendNav(ctx, row)
}

func (s *Service) cash(ctx context.Context) (float64, error) {
	last, err := s.store.LastNav(ctx)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return last.Cash, nil
}

func (s *Service) value(ctx context.Context, positions models.Positions) (float64, []string) {
	var value float64
	var unpriced []string
	for _, symbol := range positions.Symbols() {
		px, ok := s.prices.LatestPrice(ctx, symbol)
		if !ok {
			unpriced = append(unpriced, symbol)
			continue
		}
		value += positions[symbol] * px
	}
	return value, unpriced
}

// benchmarkIndex is the benchmark's last close over its first, times 100.
func (s *Service) benchmarkIndex(ctx context.Context) float64 {
	if s.benchmark == "" {
		return BaselineBenchmark
	}
	series, ok := s.prices.Series(ctx, s.benchmark)
	if !ok || series.Empty() {
		return BaselineBenchmark
	}
	first := series.Points[0]
	last, _ := series.Last()
	if first <= 0 {
		return BaselineBenchmark
	}
	return last / first * 100
}

func unionSymbols(weights map[string]float64, positions models.Positions) []string {
	set := make(map[string]struct{}, len(weights)+len(positions))
	for s := range weights {
		set[s] = struct{}{}
	}
	for s := range positions {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sameNav(a, b models.NavRecord) bool {
	const tol = 1e-9
	return a.Date == b.Date &&
		math.Abs(a.NAV-b.NAV) < tol &&
		math.Abs(a.Cash-b.Cash) < tol &&
		math.Abs(a.Value-b.Value) < tol &&
		math.Abs(a.Benchmark-b.Benchmark) < tol
}
