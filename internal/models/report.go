package models

import "time"

// SectorSummary lists a sector's selected picks for the weekly summary.
type SectorSummary struct {
	Sector string   `json:"sector"`
	Top    []string `json:"top"`
}

// WeeklySummary is the cycle's consolidated output for downstream renderers.
type WeeklySummary struct {
	RunID   string          `json:"runId"`
	AsOf    time.Time       `json:"asOf"`
	Sectors []SectorSummary `json:"sectors"`
	Risk    *RiskAssessment `json:"risk"`
	Checks  *ChecksResult   `json:"checks,omitempty"`
	Target  []TargetLine    `json:"target"`
	Trades  []TradeRecord   `json:"trades,omitempty"`
	Nav     *NavRecord      `json:"nav,omitempty"`
}

// FileDigest identifies an input or output file by content hash. SHA256 is empty when absent.
type FileDigest struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256,omitempty"`
}

// AuditBlob records what a cycle consumed and produced.
type AuditBlob struct {
	AsOf    string       `json:"asOf"`
	RunID   string       `json:"runId"`
	Git     AuditGit     `json:"git"`
	Inputs  AuditInputs  `json:"inputs"`
	Outputs AuditOutputs `json:"outputs"`
}

// AuditGit holds CI provenance when available.
type AuditGit struct {
	SHA   string `json:"sha,omitempty"`
	Ref   string `json:"ref,omitempty"`
	RunID string `json:"runId,omitempty"`
}

// AuditInputs hashes the cycle inputs.
type AuditInputs struct {
	Config    *FileDigest  `json:"config,omitempty"`
	Sectors   []FileDigest `json:"sectors"`
	Sentiment []FileDigest `json:"quali"`
}

// AuditOutputs hashes the cycle outputs.
type AuditOutputs struct {
	Target     FileDigest `json:"target"`
	SumWeight  float64    `json:"sumWeight"`
	Risk       FileDigest `json:"risk"`
	RiskStatus RiskStatus `json:"riskStatus,omitempty"`
}

// Recommendation is one line of the append-only recommendation log.
type Recommendation struct {
	Timestamp time.Time        `json:"ts"`
	Sector    string           `json:"sector"`
	Analytics *SectorAnalytics `json:"analytics,omitempty"`
	Picks     []SectorPick     `json:"picks"`
}
