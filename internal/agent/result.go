package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/validate"
)

// State is the orchestration state machine position.
type State string

const (
	StateThinking     State = "THINKING"
	StateActing       State = "ACTING"
	StateObserving    State = "OBSERVING"
	StateWaitingHuman State = "WAITING_HUMAN"
	StateComplete     State = "COMPLETE"
)

// Terminal reports whether the run has stopped.
func (s State) Terminal() bool {
	return s == StateWaitingHuman || s == StateComplete
}

// Step records one think → act → observe cycle.
type Step struct {
	Index       int           `json:"index"`
	State       State         `json:"state"`
	Thought     string        `json:"thought"`
	Tool        string        `json:"tool"`
	Args        ToolCall      `json:"args"`
	Observation string        `json:"observation"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration_ns"`
}

// Question is a prompt the caller can answer on resume. ID is the key to use
// in the answers or overrides map.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	// Override is true when the answer belongs in the overrides map.
	Override bool `json:"override,omitempty"`
}

// Result is the full output of one run.
type Result struct {
	RunID           string                    `json:"run_id"`
	Name            string                    `json:"name"`
	RecordType      model.RecordType          `json:"record_type"`
	State           State                     `json:"state"`
	Mappings        []model.HeaderMapping     `json:"mappings"`
	Warnings        []model.Warning           `json:"warnings,omitempty"`
	MissingRequired []string                  `json:"missing_required,omitempty"`
	Findings        []model.Finding           `json:"findings"`
	Duplicates      []model.DuplicateGroup    `json:"duplicates,omitempty"`
	Stats           model.CheckStats          `json:"stats"`
	Confidence      model.ConfidenceBreakdown `json:"confidence"`
	Decision        model.Decision            `json:"decision"`
	Questions       []Question                `json:"questions,omitempty"`
	Steps           []Step                    `json:"steps"`
	// CorrectedRows holds the rows with suggested fixes applied when the
	// decision is auto_correct.
	CorrectedRows []map[string]string `json:"corrected_rows,omitempty"`
	AppliedFixes  int                 `json:"applied_fixes,omitempty"`
	Duration      time.Duration       `json:"duration_ns"`

	input model.Input
}

// Input returns the input the run was started with, for resuming.
func (r *Result) Input() model.Input {
	return r.input
}

// Summary is a one-line human readable outcome.
func (r *Result) Summary() string {
	return fmt.Sprintf("%s: %s (confidence %.3f, %d unresolved error(s), %d question(s), %d step(s))",
		r.Name, r.Decision.Type, r.Decision.Confidence.Overall,
		model.CountUnresolved(r.Findings), len(r.Questions), len(r.Steps))
}

// questions collects the open prompts: escalated findings and unmapped
// columns with candidate fields.
func questions(findings []model.Finding, mappings []model.HeaderMapping, warnings []model.Warning, missing []string) []Question {
	var out []Question
	for _, f := range findings {
		if f.Severity != model.SeverityQuestion || f.Suppressed {
			continue
		}
		id := f.QuestionID()
		if f.Target.Dataset() {
			id = validate.ConfirmPrefix + f.Code
		}
		out = append(out, Question{ID: id, Text: f.Question, Options: []string{"yes", "no"}})
	}

	candidates := make(map[string][]string)
	for _, w := range warnings {
		if w.Code == model.WarnUnmappedColumn {
			candidates[w.Column] = w.Candidates
		}
	}
	for _, m := range mappings {
		if m.Mapped() || m.Skipped {
			continue
		}
		out = append(out, Question{
			ID:       m.Column.Header,
			Text:     fmt.Sprintf("Which field does column %q hold? Answer a field name or \"-\" to skip it.", m.Column.Header),
			Options:  candidates[m.Column.Header],
			Override: true,
		})
	}
	if len(missing) > 0 {
		out = append(out, Question{
			ID:       "missing_required",
			Text:     fmt.Sprintf("Required field(s) %s were not found. Map a column to each via overrides.", strings.Join(missing, ", ")),
			Options:  missing,
			Override: true,
		})
	}
	return out
}
