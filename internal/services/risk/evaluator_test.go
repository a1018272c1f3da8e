package risk

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
)

func equalLines(n int) []models.TargetLine {
	lines := make([]models.TargetLine, n)
	for i := range lines {
		lines[i] = models.TargetLine{Symbol: fmt.Sprintf("S%02d.PA", i), Weight: 1 / float64(n)}
	}
	return lines
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(common.NewDefaultConfig().Constraints, common.NewSilentLogger())
}

func TestEvaluate_Empty(t *testing.T) {
	assessment := newTestEvaluator().Evaluate(nil)
	assert.Equal(t, models.RiskRed, assessment.Status)
	assert.Equal(t, "no positions", assessment.Message)
	assert.Equal(t, 0, assessment.Lines)
}

func TestEvaluate_EqualLines(t *testing.T) {
	tests := []struct {
		n      int
		status models.RiskStatus
	}{
		{n: 1, status: models.RiskRed},
		{n: 3, status: models.RiskYellow},
		{n: 4, status: models.RiskYellow},
		{n: 6, status: models.RiskGreen},
		{n: 12, status: models.RiskGreen},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d lines", tt.n), func(t *testing.T) {
			assessment := NewEvaluator(common.ConstraintConfig{MaxLine: 1}, common.NewSilentLogger()).Evaluate(equalLines(tt.n))
			assert.InDelta(t, 1/float64(tt.n), assessment.Concentration, 1e-12)
			assert.InDelta(t, 0.0, assessment.Dispersion, 1e-12)
			assert.Equal(t, tt.n, assessment.Lines)
			assert.Equal(t, tt.status, assessment.Status)
		})
	}
}

func TestEvaluate_Dispersion(t *testing.T) {
	target := []models.TargetLine{
		{Symbol: "A.PA", Weight: 0.4},
		{Symbol: "B.PA", Weight: 0.2},
		{Symbol: "C.PA", Weight: 0.2},
		{Symbol: "D.PA", Weight: 0.2},
	}
	assessment := newTestEvaluator().Evaluate(target)

	assert.InDelta(t, 0.28, assessment.Concentration, 1e-12)
	assert.InDelta(t, 0.1, assessment.Dispersion, 1e-12)

	// every line is over the default 0.10 cap
	require.Len(t, assessment.Breaches, 4)
	assert.Equal(t, "Line A.PA exceeds maxLine 0.1", assessment.Breaches[0])
}

// oneHeavyLine returns four lines, one of weight heavy and three sharing the rest.
// Their sample standard deviation is 2/3 of |heavy - 0.25|.
func oneHeavyLine(heavy float64) []models.TargetLine {
	rest := (1 - heavy) / 3
	return []models.TargetLine{
		{Symbol: "A.PA", Weight: heavy},
		{Symbol: "B.PA", Weight: rest},
		{Symbol: "C.PA", Weight: rest},
		{Symbol: "D.PA", Weight: rest},
	}
}

func TestEvaluate_YellowDispersionBound(t *testing.T) {
	tests := []struct {
		name       string
		heavy      float64
		dispersion float64
		status     models.RiskStatus
	}{
		{name: "below bound", heavy: 0.385, dispersion: 0.09, status: models.RiskYellow},
		{name: "above bound", heavy: 0.415, dispersion: 0.11, status: models.RiskRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assessment := newTestEvaluator().Evaluate(oneHeavyLine(tt.heavy))
			assert.InDelta(t, tt.dispersion, assessment.Dispersion, 1e-9)
			assert.Less(t, assessment.Concentration, YellowConcentration)
			assert.Greater(t, assessment.Concentration, GreenConcentration)
			assert.Equal(t, tt.status, assessment.Status)
		})
	}
}

func TestEvaluate_HighDispersionIsRed(t *testing.T) {
	target := equalLines(10)
	target[0].Weight = 0.5
	for i := 1; i < 10; i++ {
		target[i].Weight = 0.5 / 9
	}
	assessment := newTestEvaluator().Evaluate(target)
	assert.Equal(t, models.RiskRed, assessment.Status)
	assert.Greater(t, assessment.Dispersion, YellowDispersion)
	assert.Len(t, assessment.Breaches, 1)
}

func TestCheck(t *testing.T) {
	constraints := common.NewDefaultConfig().Constraints

	t.Run("valid target", func(t *testing.T) {
		result := Check(equalLines(10), constraints)
		assert.True(t, result.OK)
		assert.Empty(t, result.Issues)
		assert.Equal(t, 1.0, result.Summary.Sum)
		assert.Equal(t, 10, result.Summary.Lines)
	})

	t.Run("few lines only warn", func(t *testing.T) {
		result := Check(equalLines(2), common.ConstraintConfig{MaxLine: 1, MinLines: 4})
		assert.True(t, result.OK)
		require.Len(t, result.Issues, 1)
		assert.Equal(t, CodeMinLines, result.Issues[0].Code)
		assert.Equal(t, models.SeverityWarn, result.Issues[0].Severity)
	})

	t.Run("errors", func(t *testing.T) {
		target := []models.TargetLine{
			{Symbol: "A.PA", Weight: 0.5},
			{Symbol: "B.PA", Weight: -0.1},
			{Symbol: "C.PA", Weight: math.NaN()},
		}
		result := Check(target, constraints)
		assert.False(t, result.OK)

		codes := make([]string, 0, len(result.Issues))
		for _, issue := range result.Issues {
			codes = append(codes, issue.Code)
		}
		assert.Equal(t, []string{CodeSumWeights, CodeNegativeWeight, CodeMaxLine, CodeMinLines, CodeNaNWeight}, codes)
		assert.InDelta(t, 0.4, result.Summary.Sum, 1e-12)
		assert.Contains(t, result.Issues[2].Message, "A.PA")
	})

	t.Run("empty target", func(t *testing.T) {
		result := Check(nil, constraints)
		assert.False(t, result.OK)
		assert.Equal(t, CodeSumWeights, result.Issues[0].Code)
	})
}
