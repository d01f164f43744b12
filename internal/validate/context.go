package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"

	"github.com/sells-group/roster-validator/internal/model"
)

// Answer keys with a fixed meaning.
const (
	AnswerHeadcount  = "headcount"
	AnswerSalaryUnit = "salary_unit"

	ConfirmPrefix = "confirm:"
)

// Derived context values patterns may test besides record fields.
const (
	CtxAge         = "age"
	CtxHireAge     = "hire_age"
	CtxTenureYears = "tenure_years"
)

// questionHints finishes the clarification prompt per finding code.
var questionHints = map[string]string{
	CodeHireAgeOutlier:      "Is this an executive, re-hire or other expected late hire?",
	CodeDuplicateSuspicious: "Are these rows the same person?",
	CodeBirthYearUnusual:    "Is the birth date correct?",
	CodeBelowMinimumWage:    "Is the salary recorded in a different unit or for part-time work?",
}

// Contextual runs the L3 pass: prior findings are re-evaluated against caller
// answers and learned patterns, and whatever stays ambiguous becomes a
// question. The returned report holds every finding, prior ones included.
func (v *Validator) Contextual(ctx context.Context, ds *Dataset, prior []model.Finding, patterns []model.LearnedPattern, answers map[string]string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "validate: context checks")
	}
	answers = normalizeAnswers(answers)
	byCode := make(map[string][]model.LearnedPattern)
	for _, p := range patterns {
		byCode[p.Code] = append(byCode[p.Code], p)
	}

	rep := &Report{Findings: make([]model.Finding, 0, len(prior)+1)}
	envs := make(map[int]map[string]string)
	for _, f := range prior {
		env, ok := envs[f.Target.Row]
		if !ok {
			env = v.contextOf(ds, f.Target.Row)
			envs[f.Target.Row] = env
		}
		rep.Findings = append(rep.Findings, v.reevaluate(f, env, byCode[f.Code], answers))
	}

	if f, ok := v.headcountCheck(len(ds.Records), answers); ok {
		rep.Findings = append(rep.Findings, v.reevaluate(f, nil, byCode[f.Code], answers))
	}
	return rep, nil
}

func (v *Validator) reevaluate(f model.Finding, env map[string]string, patterns []model.LearnedPattern, answers map[string]string) model.Finding {
	if f.Suppressed || f.Confirmed {
		return f
	}

	for _, key := range []string{f.QuestionID(), ConfirmPrefix + f.Code} {
		a, ok := answers[key]
		if !ok {
			continue
		}
		switch {
		case IsAffirmative(a):
			f.Suppressed = true
			f.SuppressedBy = "answer:" + key
			f.Question = ""
			return f
		case IsNegative(a):
			f.Confirmed = true
			f.Ambiguous = false
			f.Question = ""
			f.Severity = model.SeverityError
			return f
		}
	}

	for _, p := range patterns {
		if !matchesAll(p.Conditions, env) {
			continue
		}
		switch p.Effect.Kind {
		case model.EffectSuppress:
			f.Suppressed = true
			f.SuppressedBy = p.ID
			return f
		case model.EffectDowngrade:
			if p.Effect.Severity != "" && p.Effect.Severity.Rank() < f.Severity.Rank() {
				f.Severity = p.Effect.Severity
				f.SuppressedBy = p.ID
				f.Ambiguous = false
				return f
			}
		}
	}

	if f.Code == CodeBelowMinimumWage && strings.EqualFold(answers[AnswerSalaryUnit], "thousand") {
		f.Severity = model.SeverityInfo
		f.Ambiguous = false
		f.Message += " (salary reported in thousands)"
		return f
	}

	if f.Ambiguous {
		f.Severity = model.SeverityQuestion
		f.Question = question(f)
	}
	return f
}

func (v *Validator) headcountCheck(rows int, answers map[string]string) (model.Finding, bool) {
	raw, ok := answers[AnswerHeadcount]
	if !ok {
		return model.Finding{}, false
	}
	reported, err := cast.ToIntE(strings.TrimSpace(raw))
	if err != nil || reported <= 0 {
		return model.Finding{}, false
	}
	diff := float64(rows-reported) / float64(reported)
	sev, flagged := model.SeverityForPercentDiff(diff, v.cfg.HeadcountTolerance)
	if !flagged {
		return model.Finding{}, false
	}
	f := newFinding(model.StageL3, sev, CodeHeadcountMismatch, 0, "",
		"roster has %d rows but %d employees were reported (%.1f%% difference)", rows, reported, diff*100)
	f.Question = fmt.Sprintf("The file has %d rows, you reported %d employees. Which is correct? Answer with key %s.",
		rows, reported, ConfirmPrefix+CodeHeadcountMismatch)
	return f, true
}

// contextOf exposes a record's raw fields plus derived ages to pattern
// conditions.
func (v *Validator) contextOf(ds *Dataset, row int) map[string]string {
	rec, ok := ds.Record(row)
	if !ok {
		return map[string]string{}
	}
	env := make(map[string]string, len(rec.Raw)+3)
	for k := range rec.Raw {
		env[k] = rec.Text(k)
	}
	asOf := v.asOf()
	birth, hasBirth := rec.Date(FieldBirth)
	hire, hasHire := rec.Date(FieldHire)
	if hasBirth {
		env[CtxAge] = cast.ToString(yearsBetween(birth, asOf))
	}
	if hasBirth && hasHire {
		env[CtxHireAge] = cast.ToString(yearsBetween(birth, hire))
	}
	if hasHire {
		end := asOf
		if retire, ok := rec.Date(FieldRetire); ok {
			end = retire
		}
		env[CtxTenureYears] = cast.ToString(yearsBetween(hire, end))
	}
	return env
}

// patternFields are the role fields a learned exception is keyed on.
var patternFields = []string{FieldRank, FieldEmpType, FieldDept}

// PatternFrom derives a suppress pattern from a finding a human accepted. The
// pattern keys on the record's role fields, plus the hire age for late-hire
// findings. ok is false when the record has no role field to key on.
func (v *Validator) PatternFrom(ds *Dataset, f model.Finding) (model.LearnedPattern, bool) {
	if f.Target.Dataset() {
		return model.LearnedPattern{}, false
	}
	env := v.contextOf(ds, f.Target.Row)
	var conds []model.Condition
	for _, field := range patternFields {
		if val := env[field]; val != "" {
			conds = append(conds, model.Condition{Field: field, Op: model.OpEq, Value: val})
		}
	}
	if len(conds) == 0 {
		return model.LearnedPattern{}, false
	}
	if f.Code == CodeHireAgeOutlier {
		conds = append(conds, model.Condition{Field: CtxHireAge, Op: model.OpGte, Value: cast.ToString(v.cfg.HireAgeOutlier)})
	}
	effect := model.Effect{Kind: model.EffectSuppress}
	return model.LearnedPattern{
		ID:         model.PatternID(f.Code, conds, effect),
		Code:       f.Code,
		Conditions: conds,
		Effect:     effect,
	}, true
}

func matchesAll(conds []model.Condition, env map[string]string) bool {
	for _, c := range conds {
		if !matches(c, env) {
			return false
		}
	}
	return true
}

func matches(c model.Condition, env map[string]string) bool {
	got, ok := env[c.Field]
	if !ok {
		return c.Op == model.OpNe
	}
	switch c.Op {
	case model.OpEq:
		return strings.EqualFold(got, strings.TrimSpace(c.Value))
	case model.OpNe:
		return !strings.EqualFold(got, strings.TrimSpace(c.Value))
	case model.OpIn:
		for _, opt := range strings.Split(c.Value, ",") {
			if strings.EqualFold(got, strings.TrimSpace(opt)) {
				return true
			}
		}
		return false
	case model.OpContains:
		return strings.Contains(strings.ToLower(got), strings.ToLower(c.Value))
	case model.OpGte, model.OpLte:
		if got == "" {
			return false
		}
		a, errA := cast.ToFloat64E(got)
		b, errB := cast.ToFloat64E(strings.TrimSpace(c.Value))
		if errA != nil || errB != nil {
			return false
		}
		if c.Op == model.OpGte {
			return a >= b
		}
		return a <= b
	}
	return false
}

func question(f model.Finding) string {
	hint := questionHints[f.Code]
	if hint == "" {
		hint = "Is this value correct?"
	}
	return fmt.Sprintf("%s. %s Answer yes or no with key %s.", strings.TrimSuffix(f.Message, "."), hint, f.QuestionID())
}

func normalizeAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
