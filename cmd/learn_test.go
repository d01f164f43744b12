package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/roster-validator/internal/casestore"
	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/schema"
)

const correctionsYAML = `
record_type: active
headers:
  근로 형태: 종업원구분
  월 지급액: 기준급여
patterns:
  - code: hire_age_outlier
    description: executives are hired late
    conditions:
      - {field: 직급, op: eq, value: 임원}
      - {field: hire_age, op: gte, value: "65"}
  - code: wage_below_minimum
    conditions:
      - {field: 종업원구분, op: eq, value: 임원}
    effect: {kind: downgrade, severity: low}
fixes:
  - {code: date_format, success: true}
  - {code: date_format, success: false}
`

func TestApplyCorrections(t *testing.T) {
	dir := t.TempDir()
	c, err := loadCorrections(writeTestFile(t, dir, "corrections.yaml", correctionsYAML))
	require.NoError(t, err)

	ctx := context.Background()
	st := casestore.NewMemory()
	n, err := applyCorrections(ctx, st, schema.Default(), c)
	require.NoError(t, err)
	assert.Equal(t, learnCounts{Headers: 2, Patterns: 2, Fixes: 2}, n)

	field, ok, err := st.LookupHeader(ctx, model.RecordActive, "근로 형태")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "종업원구분", field)

	patterns, err := st.ListPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	byCode := map[string]model.LearnedPattern{}
	for _, p := range patterns {
		byCode[p.Code] = p
	}
	assert.Equal(t, model.EffectSuppress, byCode["hire_age_outlier"].Effect.Kind)
	assert.Equal(t, "executives are hired late", byCode["hire_age_outlier"].Description)
	assert.Equal(t, model.SeverityInfo, byCode["wage_below_minimum"].Effect.Severity)
	assert.NotEmpty(t, byCode["wage_below_minimum"].Description)

	fs, err := st.FixStats(ctx, "date_format")
	require.NoError(t, err)
	assert.Equal(t, 2, fs.Attempts)
	assert.Equal(t, 1, fs.Successes)

	again, err := applyCorrections(ctx, st, schema.Default(), c)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Patterns)
	patterns, err = st.ListPatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, patterns, 2, "patterns upsert by trigger")
}

func TestApplyCorrections_RejectsBeforeWriting(t *testing.T) {
	tests := []struct {
		name string
		c    corrections
	}{
		{"unknown field", corrections{Headers: map[string]string{"x": "연봉"}}},
		{"unknown record type", corrections{RecordType: "contractor"}},
		{"no conditions", corrections{Patterns: []patternEntry{{Code: "x"}}}},
		{"no code", corrections{Patterns: []patternEntry{{Conditions: []model.Condition{{Field: "a", Op: model.OpEq}}}}}},
		{"bad op", corrections{Patterns: []patternEntry{{Code: "x", Conditions: []model.Condition{{Field: "a", Op: "like"}}}}}},
		{"bad effect", corrections{Patterns: []patternEntry{{Code: "x", Conditions: []model.Condition{{Field: "a", Op: model.OpEq}}, Effect: model.Effect{Kind: "hide"}}}}},
		{"fix without code", corrections{Headers: map[string]string{"사번": "사원번호"}, Fixes: []fixOutcomeEntry{{Success: true}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := casestore.NewMemory()
			_, err := applyCorrections(ctx, st, schema.Default(), &tt.c)
			require.Error(t, err)

			_, ok, err := st.LookupHeader(ctx, model.RecordActive, "사번")
			require.NoError(t, err)
			assert.False(t, ok, "nothing is written when the file is invalid")
		})
	}
}

func TestLoadCorrections_Errors(t *testing.T) {
	_, err := loadCorrections("missing.yaml")
	assert.Error(t, err)

	bad := writeTestFile(t, t.TempDir(), "bad.yaml", "headers: [a, b")
	_, err = loadCorrections(bad)
	assert.Error(t, err)
}
