package models

// RiskStatus is the traffic-light outcome of a risk evaluation.
type RiskStatus string

const (
	RiskGreen  RiskStatus = "GREEN"
	RiskYellow RiskStatus = "YELLOW"
	RiskRed    RiskStatus = "RED"
)

// RiskAssessment describes the shape of a target allocation.
type RiskAssessment struct {
	Concentration float64    `json:"concentration"`
	Dispersion    float64    `json:"dispersion"`
	Lines         int        `json:"lines"`
	Status        RiskStatus `json:"status"`
	Message       string     `json:"message"`
	Breaches      []string   `json:"breaches,omitempty"`
}

// CheckSeverity grades a validation issue.
type CheckSeverity string

const (
	SeverityWarn  CheckSeverity = "WARN"
	SeverityError CheckSeverity = "ERROR"
)

// CheckIssue is one finding of the target validation checks.
type CheckIssue struct {
	Code     string        `json:"code"`
	Severity CheckSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// ChecksSummary carries the totals the checks were computed on.
type ChecksSummary struct {
	Sum   float64 `json:"sum"`
	Lines int     `json:"n"`
}

// ChecksResult is OK unless an ERROR issue was found.
type ChecksResult struct {
	OK      bool          `json:"ok"`
	Issues  []CheckIssue  `json:"issues"`
	Summary ChecksSummary `json:"summary"`
}
