package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/roster-validator/internal/model"
)

// lateHires has two employees hired at 66: an executive and a staff member.
func lateHires(v *Validator) *Dataset {
	return buildDataset(v, model.RecordActive,
		with(baseRow(), "사원번호", "1001", "생년월일", "1950-01-01", "입사일자", "2016-01-01", "직급", "임원"),
		with(baseRow(), "사원번호", "2002", "이름", "김철수", "생년월일", "1950-02-01", "입사일자", "2016-03-01", "직급", "사원", "전화번호", "010-9999-0000"),
	)
}

func priorFindings(t *testing.T, v *Validator, ds *Dataset) []model.Finding {
	t.Helper()
	ctx := context.Background()
	l1, err := v.Format(ctx, ds)
	require.NoError(t, err)
	l2, err := v.CrossRecord(ctx, ds)
	require.NoError(t, err)
	return append(l1.Findings, l2.Findings...)
}

func TestContextual_ExecutivePatternSuppresses(t *testing.T) {
	v := newTestValidator()
	ds := lateHires(v)
	prior := priorFindings(t, v, ds)
	require.Len(t, findingsWithCode(prior, CodeHireAgeOutlier), 2)

	conds := []model.Condition{
		{Field: "직급", Op: model.OpEq, Value: "임원"},
		{Field: CtxHireAge, Op: model.OpGte, Value: "65"},
	}
	effect := model.Effect{Kind: model.EffectSuppress}
	pattern := model.LearnedPattern{
		ID:         model.PatternID(CodeHireAgeOutlier, conds, effect),
		Code:       CodeHireAgeOutlier,
		Conditions: conds,
		Effect:     effect,
	}

	rep, err := v.Contextual(context.Background(), ds, prior, []model.LearnedPattern{pattern}, nil)
	require.NoError(t, err)

	outliers := findingsWithCode(rep.Findings, CodeHireAgeOutlier)
	require.Len(t, outliers, 2)

	exec := outliers[0]
	assert.Equal(t, 1, exec.Target.Row)
	assert.True(t, exec.Suppressed)
	assert.Equal(t, pattern.ID, exec.SuppressedBy)
	assert.False(t, exec.Unresolved())

	staff := outliers[1]
	assert.Equal(t, 2, staff.Target.Row)
	assert.False(t, staff.Suppressed)
	assert.Equal(t, model.SeverityQuestion, staff.Severity)
	assert.Contains(t, staff.Question, "q:hire_age_outlier:2")
	assert.False(t, staff.Unresolved())
}

func TestContextual_Answers(t *testing.T) {
	v := newTestValidator()
	ds := lateHires(v)
	prior := priorFindings(t, v, ds)

	rep, err := v.Contextual(context.Background(), ds, prior, nil, map[string]string{
		"q:hire_age_outlier:1": "정상",
		"q:hire_age_outlier:2": "no",
	})
	require.NoError(t, err)

	outliers := findingsWithCode(rep.Findings, CodeHireAgeOutlier)
	require.Len(t, outliers, 2)
	assert.True(t, outliers[0].Suppressed)
	assert.Equal(t, "answer:q:hire_age_outlier:1", outliers[0].SuppressedBy)

	assert.True(t, outliers[1].Confirmed)
	assert.Equal(t, model.SeverityError, outliers[1].Severity)
	assert.True(t, outliers[1].Unresolved())
}

func TestContextual_ConfirmByCode(t *testing.T) {
	v := newTestValidator()
	ds := lateHires(v)
	prior := priorFindings(t, v, ds)

	rep, err := v.Contextual(context.Background(), ds, prior, nil, map[string]string{
		"confirm:hire_age_outlier": "yes",
	})
	require.NoError(t, err)
	for _, f := range findingsWithCode(rep.Findings, CodeHireAgeOutlier) {
		assert.True(t, f.Suppressed)
	}
}

func TestContextual_DowngradePattern(t *testing.T) {
	v := newTestValidator()
	ds := buildDataset(v, model.RecordActive, with(baseRow(), "기준급여", "1,800,000", "종업원구분", "계약직"))
	prior := priorFindings(t, v, ds)

	effect := model.Effect{Kind: model.EffectDowngrade, Severity: model.SeverityInfo}
	conds := []model.Condition{{Field: "종업원구분", Op: model.OpIn, Value: "계약직, 3"}}
	pattern := model.LearnedPattern{ID: "pat_test", Code: CodeBelowMinimumWage, Conditions: conds, Effect: effect}

	rep, err := v.Contextual(context.Background(), ds, prior, []model.LearnedPattern{pattern}, nil)
	require.NoError(t, err)

	wage := findingsWithCode(rep.Findings, CodeBelowMinimumWage)
	require.Len(t, wage, 1)
	assert.Equal(t, model.SeverityInfo, wage[0].Severity)
	assert.Equal(t, "pat_test", wage[0].SuppressedBy)
	assert.Empty(t, wage[0].Question)
}

func TestContextual_SalaryInThousands(t *testing.T) {
	v := newTestValidator()
	ds := buildDataset(v, model.RecordActive, with(baseRow(), "기준급여", "3,500"))
	prior := priorFindings(t, v, ds)

	rep, err := v.Contextual(context.Background(), ds, prior, nil, map[string]string{AnswerSalaryUnit: "thousand"})
	require.NoError(t, err)
	wage := findingsWithCode(rep.Findings, CodeBelowMinimumWage)
	require.Len(t, wage, 1)
	assert.Equal(t, model.SeverityInfo, wage[0].Severity)

	rep, err = v.Contextual(context.Background(), ds, prior, nil, nil)
	require.NoError(t, err)
	wage = findingsWithCode(rep.Findings, CodeBelowMinimumWage)
	assert.Equal(t, model.SeverityQuestion, wage[0].Severity)
	assert.NotEmpty(t, wage[0].Question)
}

func TestContextual_Headcount(t *testing.T) {
	v := newTestValidator()
	ds := buildDataset(v, model.RecordActive, baseRow(), with(baseRow(), "사원번호", "1002"))

	rep, err := v.Contextual(context.Background(), ds, nil, nil, map[string]string{AnswerHeadcount: "10"})
	require.NoError(t, err)
	found := findingsWithCode(rep.Findings, CodeHeadcountMismatch)
	require.Len(t, found, 1)
	assert.Equal(t, model.SeverityQuestion, found[0].Severity)
	assert.Equal(t, model.StageL3, found[0].Stage)
	assert.True(t, found[0].Target.Dataset())

	rep, err = v.Contextual(context.Background(), ds, nil, nil, map[string]string{AnswerHeadcount: "2"})
	require.NoError(t, err)
	assert.Empty(t, rep.Findings)

	rep, err = v.Contextual(context.Background(), ds, nil, nil, map[string]string{
		AnswerHeadcount:                   "10",
		"confirm:" + CodeHeadcountMismatch: "확인",
	})
	require.NoError(t, err)
	require.Len(t, rep.Findings, 1)
	assert.True(t, rep.Findings[0].Suppressed)
}

func TestMatches(t *testing.T) {
	env := map[string]string{"직급": "임원", "hire_age": "67", "부서": "경영지원팀"}
	tests := []struct {
		cond model.Condition
		want bool
	}{
		{model.Condition{Field: "직급", Op: model.OpEq, Value: "임원"}, true},
		{model.Condition{Field: "직급", Op: model.OpNe, Value: "임원"}, false},
		{model.Condition{Field: "직급", Op: model.OpIn, Value: "부장,임원"}, true},
		{model.Condition{Field: "부서", Op: model.OpContains, Value: "경영"}, true},
		{model.Condition{Field: "hire_age", Op: model.OpGte, Value: "65"}, true},
		{model.Condition{Field: "hire_age", Op: model.OpLte, Value: "65"}, false},
		{model.Condition{Field: "직급", Op: model.OpGte, Value: "1"}, false},
		{model.Condition{Field: "없는필드", Op: model.OpEq, Value: "x"}, false},
		{model.Condition{Field: "없는필드", Op: model.OpNe, Value: "x"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matches(tt.cond, env), tt.cond.String())
	}
}

func TestPatternFrom(t *testing.T) {
	v := newTestValidator()
	ds := lateHires(v)
	prior := priorFindings(t, v, ds)
	outliers := findingsWithCode(prior, CodeHireAgeOutlier)
	require.Len(t, outliers, 2)

	p, ok := v.PatternFrom(ds, outliers[0])
	require.True(t, ok)
	assert.Equal(t, CodeHireAgeOutlier, p.Code)
	assert.Equal(t, model.EffectSuppress, p.Effect.Kind)
	assert.Contains(t, p.Conditions, model.Condition{Field: "직급", Op: model.OpEq, Value: "임원"})
	assert.Contains(t, p.Conditions, model.Condition{Field: CtxHireAge, Op: model.OpGte, Value: "65"})

	rep, err := v.Contextual(context.Background(), ds, prior, []model.LearnedPattern{p}, nil)
	require.NoError(t, err)
	got := findingsWithCode(rep.Findings, CodeHireAgeOutlier)
	assert.True(t, got[0].Suppressed)
	assert.False(t, got[1].Suppressed, "different rank is not covered")

	_, ok = v.PatternFrom(ds, model.Finding{Code: CodeHeadcountMismatch})
	assert.False(t, ok)
}
