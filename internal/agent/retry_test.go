package agent

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/resilience"
)

func TestDefaultRetryChain_RuleSelection(t *testing.T) {
	chain := DefaultRetryChain()
	require.NoError(t, ValidateRetryChain(chain))

	tests := []struct {
		name string
		f    Failure
		want string
	}{
		{"input", Failure{Call: MatchCall{}, Err: model.InputErrorf("no columns")}, "input_error"},
		{"throttled", Failure{Call: MatchCall{}, Err: resilience.NewTransientError(errors.New("x"), 429)}, "rate_limited"},
		{"throttled message", Failure{Call: ContextCall{}, Err: errors.New("rate limit exceeded")}, "rate_limited"},
		{"transient", Failure{Call: ContextCall{}, Err: resilience.NewTransientError(errors.New("x"), 503)}, "transient"},
		{"low confidence", Failure{Call: MatchCall{}, Err: eris.Wrap(ErrLowMappingConfidence, "0.6")}, "low_mapping_confidence"},
		{"match failure", Failure{Call: MatchCall{}, Err: errors.New("lookup failed")}, "match_failure"},
		{"other", Failure{Call: FormatCall{}, Err: errors.New("boom")}, "tool_failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := ruleFor(chain, tt.f)
			require.True(t, ok)
			assert.Equal(t, tt.want, r.Name)
		})
	}
}

func TestDefaultRetryChain_Sequences(t *testing.T) {
	want := map[string][]string{
		"input_error":            {"reject"},
		"rate_limited":           {"backoff", "backoff", "backoff", "ask_human"},
		"transient":              {"backoff", "backoff", "fallback_only", "ask_human"},
		"low_mapping_confidence": {"strict", "lenient", "ask_human"},
		"match_failure":          {"fallback_only", "lenient", "ask_human"},
		"tool_failure":           {"ask_human"},
	}
	for _, r := range DefaultRetryChain() {
		var got []string
		for _, a := range r.Actions {
			got = append(got, a.String())
		}
		assert.Equal(t, want[r.Name], got, r.Name)
	}
}

func TestValidateRetryChain(t *testing.T) {
	assert.Error(t, ValidateRetryChain(nil))
	assert.Error(t, ValidateRetryChain([]RetryRule{{Match: anyFailure, Actions: []Action{askHuman()}}}))
	assert.Error(t, ValidateRetryChain([]RetryRule{{Name: "a", Actions: []Action{askHuman()}}}))
	assert.Error(t, ValidateRetryChain([]RetryRule{{Name: "a", Match: anyFailure}}))

	err := ValidateRetryChain([]RetryRule{{Name: "loop", Match: anyFailure, Actions: []Action{backoff()}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop")
}
