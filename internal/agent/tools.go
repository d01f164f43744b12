package agent

import (
	"github.com/sells-group/roster-validator/internal/matcher"
)

// ToolCall is one invocation the agent can choose. The set is closed: only
// the types in this file implement it, and dispatch is an exhaustive type
// switch in act.
type ToolCall interface {
	// Tool is the stable tool name used in steps, logs and metrics.
	Tool() string
	toolCall()
}

// MatchCall maps the column headers onto the catalog.
type MatchCall struct {
	Strategy matcher.Strategy `json:"strategy"`
}

// FormatCall runs the L1 per-cell format checks.
type FormatCall struct{}

// DuplicateCall groups duplicate keys across the record set.
type DuplicateCall struct{}

// CrossRecordCall runs the L2 per-record logical checks.
type CrossRecordCall struct{}

// ContextCall applies learned patterns and caller answers (L3).
type ContextCall struct{}

// ScoreCall computes the confidence breakdown.
type ScoreCall struct{}

const (
	ToolMatch       = "header_matcher"
	ToolFormat      = "format_validator"
	ToolDuplicate   = "duplicate_detector"
	ToolCrossRecord = "cross_record_validator"
	ToolContext     = "context_validator"
	ToolScore       = "confidence_scorer"
)

func (MatchCall) Tool() string       { return ToolMatch }
func (FormatCall) Tool() string      { return ToolFormat }
func (DuplicateCall) Tool() string   { return ToolDuplicate }
func (CrossRecordCall) Tool() string { return ToolCrossRecord }
func (ContextCall) Tool() string     { return ToolContext }
func (ScoreCall) Tool() string       { return ToolScore }

func (MatchCall) toolCall()       {}
func (FormatCall) toolCall()      {}
func (DuplicateCall) toolCall()   {}
func (CrossRecordCall) toolCall() {}
func (ContextCall) toolCall()     {}
func (ScoreCall) toolCall()       {}
