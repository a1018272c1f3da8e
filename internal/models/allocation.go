package models

// SectorPick is a candidate instrument inside a sector with its scalar score.
type SectorPick struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
	Change float64 `json:"change,omitempty"`
}

// SectorAllocation is the allocation engine's per-sector input.
// Aggregates are nil when sector analytics were unavailable.
type SectorAllocation struct {
	Sector     string            `json:"sector"`
	Picks      []SectorPick      `json:"picks"`
	Sentiment  string            `json:"sentiment,omitempty"`
	Aggregates *SectorAggregates `json:"aggregates,omitempty"`
}

// TargetLine is one instrument of the target portfolio.
type TargetLine struct {
	Symbol    string  `json:"symbol"`
	Sector    string  `json:"sector,omitempty"`
	Weight    float64 `json:"weight"`
	Rationale string  `json:"reason"`
}

// SectorWeight records how a sector's share was derived.
type SectorWeight struct {
	Sector     string  `json:"sector"`
	Sentiment  string  `json:"sentiment"`
	BaseScore  float64 `json:"base_score"`
	Multiplier float64 `json:"multiplier"`
	Score      float64 `json:"score"`
	Weight     float64 `json:"weight"`
	Capped     bool    `json:"capped"`
}

// AllocationResult is the allocation engine output. Capped holds line weights after
// caps and before global renormalization; CappedTotal is their sum.
type AllocationResult struct {
	Target      []TargetLine   `json:"target"`
	Sectors     []SectorWeight `json:"sectors"`
	Capped      []TargetLine   `json:"capped"`
	CappedTotal float64        `json:"capped_total"`
	Fallback    bool           `json:"fallback"` // equal sector scores were used
}

// SumWeights returns the total weight of lines.
func SumWeights(lines []TargetLine) float64 {
	var sum float64
	for _, l := range lines {
		sum += l.Weight
	}
	return sum
}
