// Package risk grades and validates target allocations
package risk

import (
	"fmt"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/signals"
)

// Thresholds of the traffic light. A target is GREEN when both its concentration
// and its dispersion are within the green bounds, YELLOW within the yellow bounds.
const (
	GreenConcentration  = 0.20
	GreenDispersion     = 0.05
	YellowConcentration = 0.35
	YellowDispersion    = 0.10

	// breachTolerance absorbs rounding when comparing a weight to the line cap.
	breachTolerance = 1e-8
)

// Evaluator implements the RiskEvaluator. It measures the shape of the
// allocation only: concentration is the Herfindahl index of the weights and
// dispersion is their sample standard deviation.
type Evaluator struct {
	maxLine float64
	logger  *common.Logger
}

var _ interfaces.RiskEvaluator = (*Evaluator)(nil)

// NewEvaluator creates a new risk evaluator
func NewEvaluator(constraints common.ConstraintConfig, logger *common.Logger) *Evaluator {
	return &Evaluator{
		maxLine: constraints.MaxLine,
		logger:  logger,
	}
}

// Evaluate grades target. An empty target is RED.
func (e *Evaluator) Evaluate(target []models.TargetLine) *models.RiskAssessment {
	if len(target) == 0 {
		return &models.RiskAssessment{
			Status:  models.RiskRed,
			Message: "no positions",
		}
	}

	weights := make([]float64, len(target))
	var concentration float64
	for i, l := range target {
		weights[i] = l.Weight
		concentration += l.Weight * l.Weight
	}
	dispersion := signals.StdDev(weights)

	status := models.RiskRed
	switch {
	case concentration <= GreenConcentration && dispersion <= GreenDispersion:
		status = models.RiskGreen
	case concentration <= YellowConcentration && dispersion <= YellowDispersion:
		status = models.RiskYellow
	}

	assessment := &models.RiskAssessment{
		Concentration: concentration,
		Dispersion:    dispersion,
		Lines:         len(target),
		Status:        status,
		Message:       fmt.Sprintf("concentration %.4f, dispersion %.4f over %d lines", concentration, dispersion, len(target)),
	}
	if e.maxLine > 0 {
		for _, l := range target {
			if l.Weight > e.maxLine+breachTolerance {
				assessment.Breaches = append(assessment.Breaches,
					fmt.Sprintf("Line %s exceeds maxLine %g", l.Symbol, e.maxLine))
			}
		}
	}

	e.logger.Info().Str("status", string(status)).Float64("concentration", concentration).
		Float64("dispersion", dispersion).Int("breaches", len(assessment.Breaches)).Msg("Risk evaluated")
	return assessment
}
