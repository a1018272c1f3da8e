package models

import "sort"

// Positions maps a symbol to the quantity held. Absent symbols hold zero.
type Positions map[string]float64

// Symbols returns the held symbols in sorted order.
func (p Positions) Symbols() []string {
	out := make([]string, 0, len(p))
	for s := range p {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LedgerState is the virtual account: positions plus cash.
type LedgerState struct {
	Positions Positions `json:"positions"`
	Cash      float64   `json:"cash"`
}

// Trade reasons.
const (
	ReasonRebalance = "rebalance"
	ReasonLiquidate = "liquidate"
)

// TradeRecord is one synthesized execution. A positive DeltaQty is a buy.
type TradeRecord struct {
	Date     string  `json:"date"`
	Symbol   string  `json:"symbol"`
	DeltaQty float64 `json:"qty"`
	Price    float64 `json:"price"`
	Value    float64 `json:"value"`
	Reason   string  `json:"reason"`
}

// NavRecord is one valuation row of the NAV history.
type NavRecord struct {
	Date      string  `json:"date"`
	NAV       float64 `json:"nav"`
	Cash      float64 `json:"cash"`
	Value     float64 `json:"value"`
	Benchmark float64 `json:"benchmark"`
}

// Valuation is a mark-to-market result with the symbols that could not be priced.
type Valuation struct {
	NavRecord
	Unpriced []string `json:"unpriced,omitempty"`
}

// RebalanceResult is the outcome of one rebalance.
type RebalanceResult struct {
	Trades  []TradeRecord `json:"trades"`
	Nav     *NavRecord    `json:"nav,omitempty"`
	Skipped []string      `json:"skipped,omitempty"`
}
