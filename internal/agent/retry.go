package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/roster-validator/internal/matcher"
	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/resilience"
)

// ErrLowMappingConfidence is reported by the match tool when the mapped
// columns average below the configured floor.
var ErrLowMappingConfidence = eris.New("agent: low mapping confidence")

// ActionKind is what a retry rule does next.
type ActionKind string

const (
	// ActionBackoff waits and repeats the failed call.
	ActionBackoff ActionKind = "backoff"
	// ActionStrategy re-runs header matching with another strategy.
	ActionStrategy ActionKind = "strategy"
	// ActionAskHuman stops the run with an ask_human decision.
	ActionAskHuman ActionKind = "ask_human"
	// ActionReject stops the run with a reject decision.
	ActionReject ActionKind = "reject"
)

// Action is one entry of a retry sequence.
type Action struct {
	Kind     ActionKind
	Strategy matcher.Strategy
}

func (a Action) String() string {
	if a.Kind == ActionStrategy {
		return string(a.Strategy)
	}
	return string(a.Kind)
}

// Failure describes a failed or unsatisfactory tool step.
type Failure struct {
	Call ToolCall
	Err  error
}

// RetryRule pairs a failure predicate with the actions to take on successive
// failures of that class.
type RetryRule struct {
	Name    string
	Match   func(Failure) bool
	Actions []Action
}

func backoff() Action { return Action{Kind: ActionBackoff} }

func strategy(s matcher.Strategy) Action { return Action{Kind: ActionStrategy, Strategy: s} }

func askHuman() Action { return Action{Kind: ActionAskHuman} }

func inputError(f Failure) bool { return model.IsKind(f.Err, model.KindInput) }

func rateLimited(f Failure) bool { return resilience.Classify(f.Err) == resilience.ClassRateLimited }

func transient(f Failure) bool { return resilience.Classify(f.Err) == resilience.ClassTransient }

func lowConfidence(f Failure) bool { return errors.Is(f.Err, ErrLowMappingConfidence) }

func matchFailure(f Failure) bool {
	_, ok := f.Call.(MatchCall)
	return ok
}

func anyFailure(Failure) bool { return true }

// DefaultRetryChain is the recovery table, checked in order. The first rule
// whose predicate matches owns the failure.
func DefaultRetryChain() []RetryRule {
	return []RetryRule{
		{Name: "input_error", Match: inputError, Actions: []Action{{Kind: ActionReject}}},
		{Name: "rate_limited", Match: rateLimited, Actions: []Action{backoff(), backoff(), backoff(), askHuman()}},
		{Name: "transient", Match: transient, Actions: []Action{backoff(), backoff(), strategy(matcher.StrategyFallbackOnly), askHuman()}},
		{Name: "low_mapping_confidence", Match: lowConfidence, Actions: []Action{strategy(matcher.StrategyStrict), strategy(matcher.StrategyLenient), askHuman()}},
		{Name: "match_failure", Match: matchFailure, Actions: []Action{strategy(matcher.StrategyFallbackOnly), strategy(matcher.StrategyLenient), askHuman()}},
		{Name: "tool_failure", Match: anyFailure, Actions: []Action{askHuman()}},
	}
}

// ValidateRetryChain checks every rule is named, has a predicate and ends in a
// terminal action.
func ValidateRetryChain(chain []RetryRule) error {
	if len(chain) == 0 {
		return eris.New("agent: empty retry chain")
	}
	var errs []string
	for i, r := range chain {
		switch {
		case r.Name == "":
			errs = append(errs, fmt.Sprintf("rule %d has no name", i))
		case r.Match == nil:
			errs = append(errs, fmt.Sprintf("rule %s has no predicate", r.Name))
		case len(r.Actions) == 0:
			errs = append(errs, fmt.Sprintf("rule %s has no actions", r.Name))
		default:
			if last := r.Actions[len(r.Actions)-1].Kind; last != ActionAskHuman && last != ActionReject {
				errs = append(errs, fmt.Sprintf("rule %s does not end in ask_human or reject", r.Name))
			}
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("agent: invalid retry chain: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ruleFor returns the first rule owning f.
func ruleFor(chain []RetryRule, f Failure) (RetryRule, bool) {
	for _, r := range chain {
		if r.Match(f) {
			return r, true
		}
	}
	return RetryRule{}, false
}
