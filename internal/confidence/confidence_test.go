package confidence

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/roster-validator/internal/casestore"
	"github.com/sells-group/roster-validator/internal/model"
)

func TestCombine_Bounds(t *testing.T) {
	w := DefaultWeights()
	assert.InDelta(t, 1.0, Combine(w, Factors{1, 1, 1, 1, 1}).Overall, 1e-9)
	assert.InDelta(t, 0.0, Combine(w, Factors{}).Overall, 1e-9)

	b := Combine(w, Factors{DataQuality: -1, RuleMatchRate: 2, FixStability: math.NaN(), CaseSimilarity: 1.5, MappingConfidence: 0.5})
	assert.Equal(t, 0.0, b.DataQuality)
	assert.Equal(t, 1.0, b.RuleMatchRate)
	assert.Equal(t, 0.0, b.FixStability)
	assert.Equal(t, 1.0, b.CaseSimilarity)
	assert.GreaterOrEqual(t, b.Overall, 0.0)
	assert.LessOrEqual(t, b.Overall, 1.0)
}

func TestCombine_Formula(t *testing.T) {
	b := Combine(DefaultWeights(), Factors{
		DataQuality:       0.9,
		RuleMatchRate:     0.8,
		FixStability:      0.5,
		CaseSimilarity:    0.2,
		MappingConfidence: 1,
	})
	want := 0.30*0.9 + 0.25*0.8 + 0.20*0.5 + 0.15*0.2 + 0.10*1
	assert.InDelta(t, want, b.Overall, 1e-9)
	assert.Equal(t, DefaultWeights(), b.Weights)
}

func TestCombine_MonotonicInRuleMatchRate(t *testing.T) {
	base := Factors{DataQuality: 0.7, FixStability: 0.4, CaseSimilarity: 0.3, MappingConfidence: 0.9}
	prev := -1.0
	for i := 0; i <= 20; i++ {
		f := base
		f.RuleMatchRate = float64(i) / 20
		got := Combine(DefaultWeights(), f).Overall
		assert.GreaterOrEqual(t, got, prev, "rule_match_rate=%v", f.RuleMatchRate)
		prev = got
	}
}

func TestCombine_NormalizesWeights(t *testing.T) {
	f := Factors{0.9, 0.8, 0.7, 0.6, 0.5}
	scaled := model.ConfidenceWeights{DataQuality: 30, RuleMatchRate: 25, FixStability: 20, CaseSimilarity: 15, MappingConfidence: 10}
	assert.InDelta(t, Combine(DefaultWeights(), f).Overall, Combine(scaled, f).Overall, 1e-9)
}

func TestValidateWeights(t *testing.T) {
	require.NoError(t, ValidateWeights(DefaultWeights()))

	w := DefaultWeights()
	w.FixStability = -0.1
	err := ValidateWeights(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fix_stability")

	assert.Error(t, ValidateWeights(model.ConfidenceWeights{}))

	_, err = New(Config{Weights: w}, nil)
	assert.Error(t, err)
}

func TestStatsFactors(t *testing.T) {
	s := model.CheckStats{Total: 10, Passed: 8, CheckableCells: 20, ErrorCells: 5}
	assert.InDelta(t, 0.75, DataQuality(s), 1e-9)
	assert.InDelta(t, 0.8, RuleMatchRate(s), 1e-9)
	assert.Equal(t, 0.0, DataQuality(model.CheckStats{}))
	assert.Equal(t, 0.0, RuleMatchRate(model.CheckStats{}))
}

func TestScorer_MissingRequiredStaysBelowAutoCorrect(t *testing.T) {
	// three rows, five mapped columns, two required fields unmapped
	s, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	b := s.Score(context.Background(), Input{
		Stats:             model.CheckStats{Total: 21, Passed: 15, CheckableCells: 21, ErrorCells: 6},
		Headers:           []string{"사번", "성명", "생년월일", "입사일", "기준급여"},
		MappingConfidence: 5.0 / 7.0,
	})
	assert.Less(t, b.Overall, 0.80)
	assert.Equal(t, 1.0, b.FixStability, "no fixes proposed")
	assert.Equal(t, 0.0, b.CaseSimilarity)
}

func TestScorer_UsesStoreHistory(t *testing.T) {
	ctx := context.Background()
	store := casestore.NewMemory()
	for _, ok := range []bool{true, true, true, false} {
		require.NoError(t, store.RecordFixOutcome(ctx, "gender_long_form", ok))
	}
	headers := []string{"사번", "성명", "생년월일", "성별", "입사일", "종업원구분", "기준급여"}
	require.NoError(t, store.UpsertCase(ctx, model.Case{
		RecordType: model.RecordActive,
		Headers:    headers,
		Outcome:    model.CaseOutcome{Decision: model.DecisionAutoComplete, Overall: 0.97, AutoApproved: true},
	}))
	require.NoError(t, store.UpsertCase(ctx, model.Case{
		RecordType: model.RecordActive,
		Headers:    append([]string{"비고"}, headers...),
		Outcome:    model.CaseOutcome{Decision: model.DecisionAskHuman, Overall: 0.6},
	}))

	s, err := New(DefaultConfig(), store)
	require.NoError(t, err)

	fix := &model.SuggestedFix{Field: "성별", Value: "남"}
	b := s.Score(ctx, Input{
		Stats: model.CheckStats{Total: 10, Passed: 10, CheckableCells: 10},
		Findings: []model.Finding{
			{Code: "gender_long_form", SuggestedFix: fix},
			{Code: "gender_long_form", SuggestedFix: fix},
			{Code: "email_not_normalized", SuggestedFix: &model.SuggestedFix{Field: "이메일", Value: "a@b.co"}},
			{Code: "phone_international", SuggestedFix: fix, Suppressed: true},
			{Code: "invalid_date"},
		},
		Headers:           headers,
		MappingConfidence: 1,
	})
	assert.InDelta(t, (0.75+0.5)/2, b.FixStability, 1e-9)
	assert.InDelta(t, 1.0, b.CaseSimilarity, 1e-9)
}

type failingStore struct {
	casestore.Store
}

func (failingStore) FixStats(context.Context, string) (model.FixStats, error) {
	return model.FixStats{}, errors.New("db down")
}

func (failingStore) FindSimilarCases(context.Context, []string, float64, int) ([]model.CaseMatch, error) {
	return nil, errors.New("db down")
}

func TestScorer_StoreFailureDegrades(t *testing.T) {
	s, err := New(DefaultConfig(), failingStore{})
	require.NoError(t, err)

	b := s.Score(context.Background(), Input{
		Stats:             model.CheckStats{Total: 1, Passed: 1, CheckableCells: 1},
		Findings:          []model.Finding{{Code: "gender_long_form", SuggestedFix: &model.SuggestedFix{}}},
		Headers:           []string{"사번"},
		MappingConfidence: 1,
	})
	assert.InDelta(t, 0.5, b.FixStability, 1e-9)
	assert.Equal(t, 0.0, b.CaseSimilarity)
}

func TestFixCodes(t *testing.T) {
	fix := &model.SuggestedFix{}
	got := FixCodes([]model.Finding{
		{Code: "b", SuggestedFix: fix},
		{Code: "a", SuggestedFix: fix},
		{Code: "b", SuggestedFix: fix},
		{Code: "c"},
	})
	assert.Equal(t, []string{"a", "b"}, got)
}
