package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/roster-validator/internal/confidence"
	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/validate"
)

// answerPrefix marks findings suppressed by a per-row answer.
const answerPrefix = "answer:q:"

// learn writes the run outcome back to the store. Every write is best
// effort: failures are logged as persistence errors and never change the
// result.
func (a *Agent) learn(ctx context.Context, r *run, res *Result, log *zap.Logger) {
	if a.store == nil || !a.cfg.Learn || r.match == nil || res.Decision.Type == model.DecisionReject {
		return
	}
	fail := func(op string, err error) {
		log.Warn("agent: learning write failed",
			zap.String("op", op),
			zap.Error(model.NewError(model.KindPersistence, err)),
		)
	}
	automatic := res.Decision.Type.Automatic()

	mapped := make(map[string]string)
	for _, m := range res.Mappings {
		if m.Mapped() {
			mapped[m.Column.Header] = m.Field
		}
	}
	c := model.Case{
		RecordType: r.in.RecordType,
		Headers:    r.in.Headers(),
		Mappings:   mapped,
		Outcome: model.CaseOutcome{
			Decision:         res.Decision.Type,
			Overall:          res.Decision.Confidence.Overall,
			AutoApproved:     automatic,
			HumanCorrections: len(r.in.Overrides) + len(r.in.Answers),
		},
	}
	if err := a.store.UpsertCase(ctx, c); err != nil {
		fail("upsert_case", err)
	}

	// Human-picked mappings are always kept; matcher output only after a run
	// that needed no review.
	for _, m := range res.Mappings {
		if !m.Mapped() || m.Method == model.MethodLearned {
			continue
		}
		if m.Method != model.MethodManual && !automatic {
			continue
		}
		if err := a.store.UpsertHeaderMapping(ctx, r.in.RecordType, m.Column.Header, m.Field); err != nil {
			fail("upsert_header_mapping", err)
		}
	}

	caseID := model.CaseID(c.Headers)
	for _, f := range res.Findings {
		if !f.Suppressed || !strings.HasPrefix(f.SuppressedBy, answerPrefix) {
			continue
		}
		p, ok := a.validator.PatternFrom(r.ds, f)
		if !ok {
			continue
		}
		p.SourceCases = []string{caseID}
		if err := a.store.UpsertPattern(ctx, p); err != nil {
			fail("upsert_pattern", err)
			continue
		}
		log.Info("agent: learned pattern", zap.String("pattern", p.ID), zap.String("rule", p.Describe()))
	}

	if res.AppliedFixes > 0 {
		for _, code := range confidence.FixCodes(res.Findings) {
			if err := a.store.RecordFixOutcome(ctx, code, true); err != nil {
				fail("record_fix_outcome", err)
			}
		}
	}
}

// recordRejectedFixes counts a failed fix for every finding with a suggested
// fix that the caller answered negatively.
func (a *Agent) recordRejectedFixes(ctx context.Context, prev *Result, answers map[string]string) {
	if a.store == nil || !a.cfg.Learn || len(answers) == 0 {
		return
	}
	seen := make(map[string]bool)
	for _, f := range prev.Findings {
		if f.SuggestedFix == nil || seen[f.Code] {
			continue
		}
		if !validate.IsNegative(answers[f.QuestionID()]) && !validate.IsNegative(answers[validate.ConfirmPrefix+f.Code]) {
			continue
		}
		seen[f.Code] = true
		if err := a.store.RecordFixOutcome(ctx, f.Code, false); err != nil {
			zap.L().Warn("agent: learning write failed",
				zap.String("op", "record_fix_outcome"),
				zap.Error(model.NewError(model.KindPersistence, err)),
			)
		}
	}
}
