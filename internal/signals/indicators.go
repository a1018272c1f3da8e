// Package signals provides indicator calculations over close series (oldest first)
package signals

import (
	"math"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// PctChange returns the percentage change of the last close over the close k
// sessions earlier. ok is false when the series holds k closes or fewer.
func PctChange(closes []float64, k int) (float64, bool) {
	n := len(closes)
	if k <= 0 || n <= k {
		return 0, false
	}
	roc := talib.Roc(closes, k)
	v := roc[n-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Returns computes simple daily returns. A zero previous close yields no return.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			continue
		}
		out = append(out, closes[i]/prev-1)
	}
	return out
}

// Volatility is the sample standard deviation of the last window daily returns.
// A single return has zero volatility.
func Volatility(closes []float64, window int) float64 {
	rets := Returns(closes)
	if len(rets) > window {
		rets = rets[len(rets)-window:]
	}
	if len(rets) < 2 {
		return 0
	}
	return stat.StdDev(rets, nil)
}

// Momentum is the fractional change of the last close over the close window
// sessions back, or over the first close when the series is shorter.
func Momentum(closes []float64, window int) (float64, bool) {
	n := len(closes)
	if n == 0 {
		return 0, false
	}
	base := closes[0]
	if n >= window {
		base = closes[n-window]
	}
	if base == 0 {
		return 0, false
	}
	return (closes[n-1] - base) / base, true
}

// Mean averages the finite values and reports false when there are none.
func Mean(values []float64) (float64, bool) {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, false
	}
	return stat.Mean(finite, nil), true
}

// StdDev is the sample standard deviation of values, zero below two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}
