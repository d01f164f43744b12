// Package decision maps a confidence score and blocking-error presence onto
// the action committed for a run.
package decision

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/roster-validator/internal/model"
)

// Thresholds are the lower bounds of each decision band.
type Thresholds struct {
	AutoComplete   float64 `mapstructure:"auto_complete" yaml:"auto_complete"`
	AutoCorrect    float64 `mapstructure:"auto_correct" yaml:"auto_correct"`
	AutoWithReview float64 `mapstructure:"auto_with_review" yaml:"auto_with_review"`
	AskHuman       float64 `mapstructure:"ask_human" yaml:"ask_human"`
}

// DefaultThresholds returns the production decision bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoComplete:   0.95,
		AutoCorrect:    0.80,
		AutoWithReview: 0.70,
		AskHuman:       0.50,
	}
}

// Validate checks the bands are strictly descending inside (0,1].
func (t Thresholds) Validate() error {
	bands := []float64{t.AutoComplete, t.AutoCorrect, t.AutoWithReview, t.AskHuman}
	for i, b := range bands {
		if b <= 0 || b > 1 {
			return eris.Errorf("decision: threshold %v out of range (0,1]", b)
		}
		if i > 0 && b >= bands[i-1] {
			return eris.Errorf("decision: thresholds must descend, got %v after %v", b, bands[i-1])
		}
	}
	return nil
}

// rank orders decisions from most to least automatic.
var rank = map[model.DecisionType]int{
	model.DecisionAutoComplete:   4,
	model.DecisionAutoCorrect:    3,
	model.DecisionAutoWithReview: 2,
	model.DecisionAskHuman:       1,
	model.DecisionReject:         0,
}

// Decide applies the threshold table. Any unresolved error caps the result at
// auto_with_review. The function is pure.
func Decide(t Thresholds, b model.ConfidenceBreakdown, unresolvedErrors int) model.Decision {
	overall := b.Overall
	var typ model.DecisionType
	var reason string
	switch {
	case overall >= t.AutoComplete:
		typ, reason = model.DecisionAutoComplete, fmt.Sprintf("confidence %.3f ≥ %.2f", overall, t.AutoComplete)
	case overall >= t.AutoCorrect:
		typ, reason = model.DecisionAutoCorrect, fmt.Sprintf("confidence %.3f in [%.2f, %.2f)", overall, t.AutoCorrect, t.AutoComplete)
	case overall >= t.AutoWithReview:
		typ, reason = model.DecisionAutoWithReview, fmt.Sprintf("confidence %.3f in [%.2f, %.2f)", overall, t.AutoWithReview, t.AutoCorrect)
	case overall >= t.AskHuman:
		typ, reason = model.DecisionAskHuman, fmt.Sprintf("confidence %.3f in [%.2f, %.2f)", overall, t.AskHuman, t.AutoWithReview)
	default:
		typ, reason = model.DecisionReject, fmt.Sprintf("confidence %.3f < %.2f", overall, t.AskHuman)
	}

	if unresolvedErrors > 0 && rank[typ] > rank[model.DecisionAutoWithReview] {
		typ = model.DecisionAutoWithReview
		reason = fmt.Sprintf("%s; capped by %d unresolved error(s)", reason, unresolvedErrors)
	}
	return model.Decision{Type: typ, Reason: reason, Confidence: b}
}

// Forced builds a decision that bypasses the table, such as a rejected input
// or an exhausted step budget.
func Forced(typ model.DecisionType, reason string, b model.ConfidenceBreakdown) model.Decision {
	return model.Decision{Type: typ, Reason: reason, Confidence: b}
}
