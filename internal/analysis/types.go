// Package analysis calls the structured-output reasoning service that turns
// contract source into a findings report. Sampling is pinned deterministic,
// malformed structured output goes through a bounded repair pass, and the
// severity breakdown is always recomputed locally from the raw findings.
package analysis

import "strings"

// MaxSourceChars is the local input ceiling. Oversized input is rejected
// before any network call.
const MaxSourceChars = 50000

// Severity is the closed finding classification.
type Severity string

const (
	SeverityCritical      Severity = "Critical"
	SeverityHigh          Severity = "High"
	SeverityMedium        Severity = "Medium"
	SeverityLow           Severity = "Low"
	SeverityInformational Severity = "Informational"
	SeverityGas           Severity = "Gas"
)

var severityOrder = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInformational,
	SeverityGas,
}

// Severities returns the closed enum in display order.
func Severities() []Severity {
	out := make([]Severity, len(severityOrder))
	copy(out, severityOrder)
	return out
}

// ParseSeverity case-normalizes a severity tag against the closed enum.
func ParseSeverity(s string) (Severity, bool) {
	trimmed := strings.TrimSpace(s)
	for _, sev := range severityOrder {
		if strings.EqualFold(string(sev), trimmed) {
			return sev, true
		}
	}
	return "", false
}

// Finding is a single issue reported by the service. Immutable once produced.
// LineRefs is instructed to at most 5 entries at the prompt level; longer
// lists are passed through as-is.
type Finding struct {
	ID          string `json:"id,omitempty"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	LineRefs    []int  `json:"lineReferences,omitempty"`
}

// Result is the validated analysis outcome. SeverityCounts is always derived
// by Aggregate from Findings; the service's own breakdown never reaches here.
// ScoreHint is service-reported and advisory only.
type Result struct {
	SubjectName    string
	ScoreHint      int
	Assessment     string
	Findings       []Finding
	SeverityCounts map[Severity]int
	PaymentRef     string
}

// serviceResult is the wire form of the structured output. The
// vulnerabilityBreakdown field is parsed so unknown-field strictness never
// bites, then discarded: the service is not authoritative for arithmetic.
type serviceResult struct {
	ContractName           string         `json:"contractName"`
	SecurityScore          int            `json:"securityScore"`
	OverallAssessment      string         `json:"overallAssessment"`
	Vulnerabilities        []Finding      `json:"vulnerabilities"`
	VulnerabilityBreakdown map[string]int `json:"vulnerabilityBreakdown,omitempty"`
}
