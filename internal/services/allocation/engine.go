// Package allocation turns scored sector candidates into target portfolio weights
package allocation

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
)

const (
	// zeroEps is the threshold under which a total or weight counts as zero.
	zeroEps = 1e-8
	// weightPlaces is the decimal precision of published weights.
	weightPlaces = 4
)

// Engine implements the AllocationEngine. Sector shares follow the sector score,
// line shares follow the pick scores, and the caps are applied once before a
// single global renormalization.
type Engine struct {
	constraints common.ConstraintConfig
	scoring     common.ScoringConfig
	sentiment   common.SentimentConfig
	logger      *common.Logger
}

var _ interfaces.AllocationEngine = (*Engine)(nil)

// NewEngine creates an engine from the cycle configuration
func NewEngine(config *common.Config, logger *common.Logger) *Engine {
	return &Engine{
		constraints: config.Constraints,
		scoring:     config.Scoring,
		sentiment:   config.Sentiment,
		logger:      logger,
	}
}

type sectorState struct {
	input models.SectorAllocation
	info  models.SectorWeight
}

// Allocate computes the target. The target is empty when no line ends with a
// positive weight; callers treat that as "hold cash".
func (e *Engine) Allocate(sectors []models.SectorAllocation) *models.AllocationResult {
	result := &models.AllocationResult{
		Target:  []models.TargetLine{},
		Sectors: make([]models.SectorWeight, 0, len(sectors)),
		Capped:  []models.TargetLine{},
	}

	states := make([]*sectorState, 0, len(sectors))
	var scoreSum float64
	for _, s := range sectors {
		base := SectorBaseScore(s.Aggregates, e.scoring)
		mult := e.sentiment.Multiplier(s.Sentiment)
		score := base * mult
		if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
			score = 0
		}
		sentiment := s.Sentiment
		if sentiment == "" {
			sentiment = "neutral"
		}
		states = append(states, &sectorState{
			input: s,
			info: models.SectorWeight{
				Sector:     s.Sector,
				Sentiment:  sentiment,
				BaseScore:  base,
				Multiplier: mult,
				Score:      score,
			},
		})
		scoreSum += score
	}

	if len(states) > 0 && scoreSum <= zeroEps {
		result.Fallback = true
		for _, st := range states {
			st.info.Score = 1
		}
		scoreSum = float64(len(states))
		e.logger.Warn().Int("sectors", len(states)).Msg("All sector scores are zero, using equal sector scores")
	}

	seen := make(map[string]string)
	for _, st := range states {
		w := st.info.Score / scoreSum
		if e.constraints.MaxSector > 0 && w > e.constraints.MaxSector {
			w = e.constraints.MaxSector
			st.info.Capped = true
		}
		st.info.Weight = w
		result.Sectors = append(result.Sectors, st.info)

		fracs := pickFractions(st.input.Picks)
		for i, p := range st.input.Picks {
			if owner, dup := seen[p.Symbol]; dup {
				e.logger.Warn().Str("symbol", p.Symbol).Str("sector", st.info.Sector).Str("kept_in", owner).
					Msg("Symbol picked in more than one sector, keeping the first")
				continue
			}
			seen[p.Symbol] = st.info.Sector

			lw := w * fracs[i]
			if e.constraints.MaxLine > 0 && lw > e.constraints.MaxLine {
				lw = e.constraints.MaxLine
			}
			if lw < 0 {
				lw = 0
			}
			result.Capped = append(result.Capped, models.TargetLine{
				Symbol:    p.Symbol,
				Sector:    st.info.Sector,
				Weight:    round(lw),
				Rationale: rationale(st.info, p),
			})
		}
	}

	total := decimal.Zero
	for _, l := range result.Capped {
		total = total.Add(decimal.NewFromFloat(l.Weight))
	}
	result.CappedTotal = total.InexactFloat64()
	if result.CappedTotal <= zeroEps {
		e.logger.Warn().Int("sectors", len(sectors)).Msg("Allocation produced no weight, returning empty target")
		return result
	}

	target := make([]models.TargetLine, len(result.Capped))
	copy(target, result.Capped)
	for i := range target {
		target[i].Weight = decimal.NewFromFloat(target[i].Weight).DivRound(total, weightPlaces).InexactFloat64()
	}
	e.absorbResidual(target)
	for i := range target {
		if math.Abs(target[i].Weight) < zeroEps {
			target[i].Weight = 0
		}
	}
	result.Target = target

	e.logger.Info().Int("lines", len(target)).Int("sectors", len(result.Sectors)).
		Float64("capped_total", result.CappedTotal).Bool("fallback", result.Fallback).
		Msg("Allocation computed")
	return result
}

// absorbResidual moves the rounding residual onto one line so the weights sum to
// exactly 1 at the published precision. The line with the most room under the
// line cap takes it, or the largest line when none has room.
func (e *Engine) absorbResidual(target []models.TargetLine) {
	sum := decimal.Zero
	for _, l := range target {
		sum = sum.Add(decimal.NewFromFloat(l.Weight))
	}
	residual := decimal.NewFromInt(1).Sub(sum)
	if residual.IsZero() {
		return
	}

	best := -1
	if e.constraints.MaxLine > 0 {
		var room float64
		for i, l := range target {
			if l.Weight <= 0 {
				continue
			}
			if r := e.constraints.MaxLine - l.Weight; r > room {
				best, room = i, r
			}
		}
	}
	if best < 0 {
		for i, l := range target {
			if best < 0 || l.Weight > target[best].Weight {
				best = i
			}
		}
	}

	adjusted := decimal.NewFromFloat(target[best].Weight).Add(residual)
	if adjusted.IsNegative() {
		return
	}
	target[best].Weight = adjusted.Round(weightPlaces).InexactFloat64()
}

// SectorBaseScore scores a sector from its aggregates, before sentiment.
//
//	ratio:  avgChg5d / (|avgVol20| + eps)
//	linear: w5*avgChg5d + w20*avgChg20d - lambda*|avgVol20|
//
// Missing aggregates give the neutral score 1; non-finite or negative scores give 0.
func SectorBaseScore(agg *models.SectorAggregates, cfg common.ScoringConfig) float64 {
	if agg == nil || !finitePtr(agg.AvgChg5d) || !finitePtr(agg.AvgVol20) {
		return 1
	}
	eps := cfg.Eps
	if eps <= 0 {
		eps = 1e-4
	}

	chg5, vol := *agg.AvgChg5d, math.Abs(*agg.AvgVol20)

	var score float64
	switch cfg.Formula {
	case "linear":
		var chg20 float64
		if finitePtr(agg.AvgChg20d) {
			chg20 = *agg.AvgChg20d
		}
		score = cfg.W5*chg5 + cfg.W20*chg20 - cfg.Lambda*vol
	default:
		score = chg5 / (vol + eps)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return 0
	}
	return score
}

// pickFractions normalizes the pick scores of a sector. Negative and non-finite
// scores count as zero; an all-zero sector splits equally.
func pickFractions(picks []models.SectorPick) []float64 {
	fracs := make([]float64, len(picks))
	var sum float64
	for i, p := range picks {
		s := p.Score
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			s = 0
		}
		fracs[i] = s
		sum += s
	}
	if sum <= zeroEps {
		for i := range fracs {
			fracs[i] = 1 / float64(len(picks))
		}
		return fracs
	}
	for i := range fracs {
		fracs[i] /= sum
	}
	return fracs
}

func rationale(s models.SectorWeight, p models.SectorPick) string {
	return fmt.Sprintf("Sector=%s; Sentiment=%s; BaseScore=%.3f; Multiplier=%.2f; SectorScore=%.3f; SectorW=%.3f; PickScore=%.3f",
		s.Sector, s.Sentiment, s.BaseScore, s.Multiplier, s.Score, s.Weight, p.Score)
}

func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(weightPlaces).InexactFloat64()
}

func finitePtr(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0)
}
