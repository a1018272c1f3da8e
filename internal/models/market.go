// Package models defines data structures for Folio
package models

import (
	"encoding/json"
	"math"
	"time"
)

// PriceSeries is a close series rebased so the first observation is 100.
// Symbol is the identifier that actually produced data, which may differ from the
// logical symbol requested (suffix variant, search match, alias).
type PriceSeries struct {
	Symbol    string    `json:"symbol"`
	Requested string    `json:"requested,omitempty"`
	Source    string    `json:"source,omitempty"`
	Points    []float64 `json:"points"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Empty reports whether the series carries no observations.
func (s *PriceSeries) Empty() bool {
	return s == nil || len(s.Points) == 0
}

// Last returns the latest observation.
func (s *PriceSeries) Last() (float64, bool) {
	if s.Empty() {
		return 0, false
	}
	return s.Points[len(s.Points)-1], true
}

// Rebase drops non-finite values and scales the remaining closes so the first one is 100.
// A zero first close is treated as 1 to avoid dividing by zero.
func Rebase(closes []float64) []float64 {
	values := make([]float64, 0, len(closes))
	for _, c := range closes {
		if !math.IsNaN(c) && !math.IsInf(c, 0) {
			values = append(values, c)
		}
	}
	if len(values) == 0 {
		return []float64{}
	}
	base := values[0]
	if base == 0 {
		base = 1
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / base * 100
	}
	return out
}

// SeriesParams are the request parameters a provider may honour.
type SeriesParams struct {
	Range      string // e.g. "10y"
	Interval   string // e.g. "1d"
	OutputSize string // "compact" or "full"
}

// SymbolMatch is one result of a provider symbol search.
type SymbolMatch struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Region   string `json:"region,omitempty"`
	Currency string `json:"currency,omitempty"`
	Exchange string `json:"exchange,omitempty"`
}

// CacheEntry is the on-disk envelope of a cached payload.
type CacheEntry struct {
	Key      string          `json:"key"`
	CachedAt time.Time       `json:"cached_at"`
	Payload  json.RawMessage `json:"payload"`
}
