package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
)

// Check codes.
const (
	CodeSumWeights     = "SUM_WEIGHTS"
	CodeNegativeWeight = "NEGATIVE_WEIGHT"
	CodeMaxLine        = "MAX_LINE"
	CodeMinLines       = "MIN_LINES"
	CodeNaNWeight      = "NAN_WEIGHT"
)

const (
	checkTolerance  = 1e-6
	defaultMinLines = 4
)

// Check validates a target against the constraints. The result is OK unless an
// ERROR issue is found; too few lines is only a warning.
func Check(target []models.TargetLine, constraints common.ConstraintConfig) *models.ChecksResult {
	minLines := constraints.MinLines
	if minLines <= 0 {
		minLines = defaultMinLines
	}

	sumDec := decimal.Zero
	var negative, nonFinite int
	var overLine []string
	for _, l := range target {
		if math.IsNaN(l.Weight) || math.IsInf(l.Weight, 0) {
			nonFinite++
			continue
		}
		sumDec = sumDec.Add(decimal.NewFromFloat(l.Weight))
		if l.Weight < -checkTolerance {
			negative++
		}
		if constraints.MaxLine > 0 && l.Weight > constraints.MaxLine+checkTolerance {
			overLine = append(overLine, l.Symbol)
		}
	}
	sum := sumDec.Round(6).InexactFloat64()

	result := &models.ChecksResult{
		Issues:  []models.CheckIssue{},
		Summary: models.ChecksSummary{Sum: sum, Lines: len(target)},
	}
	add := func(code string, severity models.CheckSeverity, format string, args ...interface{}) {
		result.Issues = append(result.Issues, models.CheckIssue{
			Code:     code,
			Severity: severity,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if math.Abs(sum-1) > checkTolerance {
		add(CodeSumWeights, models.SeverityError, "Sum of weights = %g (expected 1)", sum)
	}
	if negative > 0 {
		add(CodeNegativeWeight, models.SeverityError, "Negative weights found (%d)", negative)
	}
	if len(overLine) > 0 {
		add(CodeMaxLine, models.SeverityError, "Lines over maxLine (%g): %s", constraints.MaxLine, strings.Join(overLine, ", "))
	}
	if len(target) < minLines {
		add(CodeMinLines, models.SeverityWarn, "Only %d lines (< %d)", len(target), minLines)
	}
	if nonFinite > 0 {
		add(CodeNaNWeight, models.SeverityError, "Non-finite weights (%d)", nonFinite)
	}

	result.OK = true
	for _, issue := range result.Issues {
		if issue.Severity == models.SeverityError {
			result.OK = false
			break
		}
	}
	return result
}
