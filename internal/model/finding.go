package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Severity is the standardized finding severity.
type Severity string

const (
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityQuestion Severity = "question"
)

// severityRank orders severities for downgrade checks. Question sits beside
// warning: it is unresolved but not blocking.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityQuestion: 1,
	SeverityError:    2,
}

// Rank returns the ordering weight of s.
func (s Severity) Rank() int {
	return severityRank[s]
}

// ParseSeverity accepts the standard names and the legacy low/medium/high
// vocabulary (low → info, medium → warning, high → error).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "high", "critical":
		return SeverityError, nil
	case "warning", "warn", "medium":
		return SeverityWarning, nil
	case "info", "low":
		return SeverityInfo, nil
	case "question":
		return SeverityQuestion, nil
	}
	return "", eris.Errorf("model: unknown severity %q", s)
}

// SeverityForPercentDiff maps the legacy percent-difference thresholds used when
// comparing caller-reported aggregates against the data: within tolerance
// passes, anything else needs a human answer.
func SeverityForPercentDiff(diff, tolerance float64) (Severity, bool) {
	if diff < 0 {
		diff = -diff
	}
	if diff <= tolerance {
		return "", false
	}
	return SeverityQuestion, true
}

// Stage identifies the validator layer that produced a finding.
type Stage string

const (
	StageL1 Stage = "L1"
	StageL2 Stage = "L2"
	StageL3 Stage = "L3"
)

// Target points a finding at a row/field or at the whole dataset (Row 0).
type Target struct {
	Row   int    `json:"row,omitempty"`
	Field string `json:"field,omitempty"`
}

// Dataset reports whether the target is the whole file.
func (t Target) Dataset() bool {
	return t.Row == 0
}

// SuggestedFix is a deterministic replacement value for a finding.
type SuggestedFix struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Finding is one validation result. Findings are data, not errors.
type Finding struct {
	ID           string        `json:"id"`
	Code         string        `json:"code"`
	Severity     Severity      `json:"severity"`
	Stage        Stage         `json:"stage"`
	Target       Target        `json:"target"`
	Message      string        `json:"message"`
	SuggestedFix *SuggestedFix `json:"suggested_fix,omitempty"`
	Question     string        `json:"question,omitempty"`
	Ambiguous    bool          `json:"ambiguous,omitempty"`
	Suppressed   bool          `json:"suppressed,omitempty"`
	SuppressedBy string        `json:"suppressed_by,omitempty"`
	Confirmed    bool          `json:"confirmed,omitempty"`
	Rows         []int         `json:"rows,omitempty"`
}

// QuestionID is the key callers use to answer a finding's question.
func (f Finding) QuestionID() string {
	return fmt.Sprintf("q:%s:%d", f.Code, f.Target.Row)
}

// Unresolved reports whether the finding is a blocking error.
func (f Finding) Unresolved() bool {
	return f.Severity == SeverityError && !f.Suppressed
}

// CountUnresolved returns the number of blocking errors in findings.
func CountUnresolved(findings []Finding) int {
	n := 0
	for _, f := range findings {
		if f.Unresolved() {
			n++
		}
	}
	return n
}

// DuplicateType classifies a duplicate group.
type DuplicateType string

const (
	DuplicateExact      DuplicateType = "exact"
	DuplicateSimilar    DuplicateType = "similar"
	DuplicateSuspicious DuplicateType = "suspicious"
)

// DuplicateGroup lists rows that share a normalized key.
type DuplicateGroup struct {
	Type     DuplicateType `json:"type"`
	KeyField string        `json:"key_field"`
	Key      string        `json:"key"`
	Rows     []int         `json:"rows"`
	// Reason is set on suspicious groups.
	Reason string `json:"reason,omitempty"`
}

// Reasons a suspicious group links different keys.
const (
	SuspectNearKey       = "near_key"
	SuspectSameIdentity  = "same_identity"
	SuspectSharedContact = "shared_contact"
)

// Count returns the number of member rows.
func (g DuplicateGroup) Count() int {
	return len(g.Rows)
}

// CheckStats counts the checks a validator ran, for confidence scoring.
type CheckStats struct {
	Total          int `json:"total"`
	Passed         int `json:"passed"`
	CheckableCells int `json:"checkable_cells"`
	ErrorCells     int `json:"error_cells"`
}

// Add accumulates o into s.
func (s *CheckStats) Add(o CheckStats) {
	s.Total += o.Total
	s.Passed += o.Passed
	s.CheckableCells += o.CheckableCells
	s.ErrorCells += o.ErrorCells
}
