package models

import "time"

// SymbolMetrics are the per-instrument statistics computed from a price series.
// Percentage changes are nil when the series is too short.
type SymbolMetrics struct {
	Symbol     string   `json:"symbol"`
	UsedSymbol string   `json:"used_symbol,omitempty"`
	Last       float64  `json:"last,omitempty"`
	Chg1d      *float64 `json:"chg1d,omitempty"`
	Chg5d      *float64 `json:"chg5d,omitempty"`
	Chg20d     *float64 `json:"chg20d,omitempty"`
	Vol20      float64  `json:"vol20"`
	Momentum20 *float64 `json:"momentum20,omitempty"`
	Score      float64  `json:"score"`
	OK         bool     `json:"ok"`
	Error      string   `json:"error,omitempty"`
}

// SectorAggregates are averages over the sector's OK symbols. Nil means no OK symbol had the value.
type SectorAggregates struct {
	AvgChg1d  *float64 `json:"avgChg1d,omitempty"`
	AvgChg5d  *float64 `json:"avgChg5d,omitempty"`
	AvgChg20d *float64 `json:"avgChg20d,omitempty"`
	AvgVol20  *float64 `json:"avgVol20,omitempty"`
}

// SectorAnalytics is the analytics artifact written per sector each cycle.
type SectorAnalytics struct {
	Sector     string           `json:"sector"`
	AsOf       time.Time        `json:"asOf"`
	Symbols    []SymbolMetrics  `json:"symbols"`
	Aggregates SectorAggregates `json:"aggregates"`
	Picks      []SectorPick     `json:"picks"`
}

// SectorSentiment is the qualitative input produced by the external sentiment extractor.
type SectorSentiment struct {
	Sector    string   `json:"sector"`
	Sentiment string   `json:"sentiment"`
	Keywords  []string `json:"keywords,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}
