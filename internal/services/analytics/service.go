// Package analytics computes per-sector statistics and candidate picks
package analytics

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/signals"
)

// MinPoints is the shortest series that produces metrics.
const MinPoints = 6

// ErrInsufficientData is recorded on a symbol whose series is shorter than MinPoints.
const ErrInsufficientData = "insufficient data"

// Scoring formulas.
const (
	FormulaRatio  = "ratio"
	FormulaLinear = "linear"
)

// Service analyzes the symbols of a sector through the resolver.
type Service struct {
	resolver interfaces.SeriesResolver
	scoring  common.ScoringConfig
	clock    common.Clock
	logger   *common.Logger
}

// NewService creates a new analytics service
func NewService(resolver interfaces.SeriesResolver, scoring common.ScoringConfig, clock common.Clock, logger *common.Logger) *Service {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Service{
		resolver: resolver,
		scoring:  scoring,
		clock:    clock,
		logger:   logger,
	}
}

// AnalyzeSector resolves every symbol of the sector, computes its metrics and
// selects the picks. A symbol without data is recorded with an error; only
// context cancellation fails the call.
func (s *Service) AnalyzeSector(ctx context.Context, sector common.SectorConfig) (*models.SectorAnalytics, error) {
	metrics := make([]models.SymbolMetrics, 0, len(sector.Symbols))
	for _, symbol := range sector.Symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		series, err := s.resolver.Resolve(ctx, symbol)
		if err != nil {
			return nil, err
		}
		m := ComputeMetrics(symbol, series)
		if m.OK {
			m.Score = SymbolScore(m, s.scoring)
		} else {
			s.logger.Warn().Str("sector", sector.Name).Str("symbol", symbol).Str("error", m.Error).
				Msg("Symbol excluded from sector analytics")
		}
		metrics = append(metrics, m)
	}

	result := &models.SectorAnalytics{
		Sector:     sector.Name,
		AsOf:       s.clock.Now().UTC(),
		Symbols:    metrics,
		Aggregates: Aggregate(metrics),
		Picks:      SelectPicks(metrics, s.scoring.TopN),
	}

	s.logger.Info().Str("sector", sector.Name).Int("symbols", len(metrics)).Int("picks", len(result.Picks)).
		Msg("Sector analyzed")
	return result, nil
}

// ComputeMetrics derives the statistics of one series. The series points are
// rebased closes, which leaves every ratio unchanged.
func ComputeMetrics(symbol string, series *models.PriceSeries) models.SymbolMetrics {
	m := models.SymbolMetrics{Symbol: symbol}
	if series != nil && series.Symbol != "" && series.Symbol != symbol {
		m.UsedSymbol = series.Symbol
	}

	var closes []float64
	if series != nil {
		closes = finite(series.Points)
	}
	n := len(closes)
	if n < MinPoints {
		m.Error = ErrInsufficientData
		return m
	}

	m.Last = closes[n-1]
	m.Chg1d = optional(signals.PctChange(closes, 1))
	m.Chg5d = optional(signals.PctChange(closes, 5))
	m.Chg20d = optional(signals.PctChange(closes, 20))
	m.Vol20 = signals.Volatility(closes, 20)
	m.Momentum20 = optional(signals.Momentum(closes, 20))
	m.OK = true
	return m
}

// SymbolScore ranks an OK symbol inside its sector.
//
//	ratio:  momentum20 / (vol20 + eps)
//	linear: w5*chg5d + w20*chg20d - lambda*vol20
func SymbolScore(m models.SymbolMetrics, cfg common.ScoringConfig) float64 {
	var score float64
	switch cfg.Formula {
	case FormulaLinear:
		score = cfg.W5*value(m.Chg5d) + cfg.W20*value(m.Chg20d) - cfg.Lambda*m.Vol20
	default:
		score = value(m.Momentum20) / (m.Vol20 + eps(cfg))
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

// Aggregate averages the finite metrics of the OK symbols.
func Aggregate(metrics []models.SymbolMetrics) models.SectorAggregates {
	var chg1d, chg5d, chg20d, vol20 []float64
	for _, m := range metrics {
		if !m.OK {
			continue
		}
		if m.Chg1d != nil {
			chg1d = append(chg1d, *m.Chg1d)
		}
		if m.Chg5d != nil {
			chg5d = append(chg5d, *m.Chg5d)
		}
		if m.Chg20d != nil {
			chg20d = append(chg20d, *m.Chg20d)
		}
		vol20 = append(vol20, m.Vol20)
	}
	return models.SectorAggregates{
		AvgChg1d:  optional(signals.Mean(chg1d)),
		AvgChg5d:  optional(signals.Mean(chg5d)),
		AvgChg20d: optional(signals.Mean(chg20d)),
		AvgVol20:  optional(signals.Mean(vol20)),
	}
}

// SelectPicks returns the topN OK symbols by score, best first. Ties keep symbol order.
func SelectPicks(metrics []models.SymbolMetrics, topN int) []models.SectorPick {
	ok := make([]models.SymbolMetrics, 0, len(metrics))
	for _, m := range metrics {
		if m.OK {
			ok = append(ok, m)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool {
		if ok[i].Score != ok[j].Score {
			return ok[i].Score > ok[j].Score
		}
		return ok[i].Symbol < ok[j].Symbol
	})
	if topN > 0 && len(ok) > topN {
		ok = ok[:topN]
	}

	picks := make([]models.SectorPick, 0, len(ok))
	for _, m := range ok {
		picks = append(picks, models.SectorPick{
			Symbol: m.Symbol,
			Score:  m.Score,
			Change: value(m.Chg5d),
		})
	}
	return picks
}

func eps(cfg common.ScoringConfig) float64 {
	if cfg.Eps > 0 {
		return cfg.Eps
	}
	return 1e-4
}

func finite(points []float64) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		if !math.IsNaN(p) && !math.IsInf(p, 0) {
			out = append(out, p)
		}
	}
	return out
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
