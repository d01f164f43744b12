// Package agent drives one roster file through matching, validation, scoring
// and decision as a bounded think → act → observe loop.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/roster-validator/internal/casestore"
	"github.com/sells-group/roster-validator/internal/confidence"
	"github.com/sells-group/roster-validator/internal/decision"
	"github.com/sells-group/roster-validator/internal/matcher"
	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/resilience"
	"github.com/sells-group/roster-validator/internal/validate"
)

// ReasonBudgetExceeded is the decision reason when the step budget runs out.
const ReasonBudgetExceeded = "step budget exceeded"

// Config tunes the orchestration loop.
type Config struct {
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// LowConfidence is the floor for the mean confidence of mapped columns.
	LowConfidence float64             `mapstructure:"low_confidence" yaml:"low_confidence"`
	Backoff       resilience.Backoff  `mapstructure:"backoff" yaml:"backoff"`
	Thresholds    decision.Thresholds `mapstructure:"thresholds" yaml:"thresholds"`
	// Learn writes cases, header mappings, patterns and fix outcomes to the
	// store after each run.
	Learn bool `mapstructure:"learn" yaml:"learn"`
	// ApplyFixes applies suggested fixes to the output rows on auto_correct.
	ApplyFixes bool `mapstructure:"apply_fixes" yaml:"apply_fixes"`
}

// DefaultConfig returns the production loop settings.
func DefaultConfig() Config {
	return Config{
		MaxSteps:      10,
		LowConfidence: 0.80,
		Backoff:       resilience.DefaultBackoff(),
		Thresholds:    decision.DefaultThresholds(),
		Learn:         true,
		ApplyFixes:    true,
	}
}

// Recorder receives run telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Step(tool string, success bool, d time.Duration)
	Retry(rule string, action string)
	Finish(res *Result)
}

type nopRecorder struct{}

func (nopRecorder) Step(string, bool, time.Duration) {}
func (nopRecorder) Retry(string, string)             {}
func (nopRecorder) Finish(*Result)                   {}

// Agent runs validation files. It holds no per-run state and is safe for
// concurrent use.
type Agent struct {
	matcher   *matcher.Matcher
	validator *validate.Validator
	scorer    *confidence.Scorer
	store     casestore.Store
	cfg       Config
	chain     []RetryRule
	recorder  Recorder
	onStep    func(file string, s Step)
	sleep     func(context.Context, time.Duration) error
}

// Option configures an Agent.
type Option func(*Agent)

// WithRetryChain replaces the recovery table.
func WithRetryChain(chain []RetryRule) Option {
	return func(a *Agent) { a.chain = chain }
}

// WithRecorder attaches a telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithStepHook is called after every observed step with the input name.
func WithStepHook(fn func(file string, s Step)) Option {
	return func(a *Agent) { a.onStep = fn }
}

// WithSleep replaces the backoff sleeper, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(a *Agent) { a.sleep = fn }
}

// New creates an Agent. The store may be nil, which disables learning and
// pattern lookups.
func New(m *matcher.Matcher, v *validate.Validator, s *confidence.Scorer, store casestore.Store, cfg Config, opts ...Option) (*Agent, error) {
	if m == nil || v == nil || s == nil {
		return nil, eris.New("agent: matcher, validator and scorer are required")
	}
	d := DefaultConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = d.MaxSteps
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = d.LowConfidence
	}
	if cfg.Thresholds == (decision.Thresholds{}) {
		cfg.Thresholds = d.Thresholds
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		matcher:   m,
		validator: v,
		scorer:    s,
		store:     store,
		cfg:       cfg,
		chain:     DefaultRetryChain(),
		recorder:  nopRecorder{},
		sleep:     resilience.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := ValidateRetryChain(a.chain); err != nil {
		return nil, err
	}
	return a, nil
}

// run is the mutable state of one file.
type run struct {
	id       string
	in       model.Input
	match    *matcher.Result
	ds       *validate.Dataset
	l1       *validate.Report
	dups     *validate.Report
	l2       *validate.Report
	l3       *validate.Report
	score    *model.ConfidenceBreakdown
	pending  ToolCall
	forced   *model.Decision
	attempts map[string]int
	backoffs int
	steps    []Step
}

// Run validates one file. Input errors end in a reject decision rather than
// an error; the returned error is non-nil only when ctx is done.
func (a *Agent) Run(ctx context.Context, in model.Input) (*Result, error) {
	start := time.Now()
	if in.RecordType == "" {
		in.RecordType = model.RecordActive
	}
	r := &run{id: uuid.NewString(), in: in, attempts: make(map[string]int)}
	log := zap.L().With(
		zap.String("run_id", r.id),
		zap.String("file", in.Name),
		zap.String("record_type", string(in.RecordType)),
	)
	log.Info("agent: starting run", zap.Int("columns", len(in.Columns)), zap.Int("rows", len(in.Rows)))

	if err := checkInput(in); err != nil {
		log.Warn("agent: rejecting input", zap.Error(err))
		r.force(model.DecisionReject, err.Error())
	}

	for r.forced == nil {
		if len(r.steps) >= a.cfg.MaxSteps {
			log.Warn("agent: step budget exceeded", zap.Int("max_steps", a.cfg.MaxSteps))
			r.force(model.DecisionAskHuman, ReasonBudgetExceeded)
			break
		}
		call, thought, done := r.think()
		if done {
			break
		}
		if err := a.step(ctx, r, log, call, thought); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, eris.Wrap(ctxErr, "agent: run canceled")
			}
			if rerr := a.recover(ctx, r, log, Failure{Call: call, Err: err}); rerr != nil {
				return nil, rerr
			}
		}
	}

	res := a.finish(r)
	res.Duration = time.Since(start)
	a.learn(ctx, r, res, log)
	a.recorder.Finish(res)

	log.Info("agent: run complete",
		zap.String("state", string(res.State)),
		zap.String("decision", string(res.Decision.Type)),
		zap.Float64("confidence", res.Decision.Confidence.Overall),
		zap.Int("steps", len(res.Steps)),
		zap.Int("questions", len(res.Questions)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// Resume re-runs a file with the caller's answers and header overrides merged
// over those of the earlier run.
func (a *Agent) Resume(ctx context.Context, prev *Result, answers, overrides map[string]string) (*Result, error) {
	if prev == nil {
		return nil, eris.New("agent: resume without a prior result")
	}
	in := prev.Input()
	in.Answers = merge(in.Answers, answers)
	in.Overrides = merge(in.Overrides, overrides)
	a.recordRejectedFixes(ctx, prev, answers)
	return a.Run(ctx, in)
}

func checkInput(in model.Input) error {
	if len(in.Columns) == 0 {
		return model.InputErrorf("agent: %s has no header row", in.Name)
	}
	if len(in.Rows) == 0 {
		return model.InputErrorf("agent: %s has no data rows", in.Name)
	}
	return nil
}

func merge(base, over map[string]string) map[string]string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// think picks the next tool from what the run has observed so far.
func (r *run) think() (ToolCall, string, bool) {
	missing := r.match != nil && len(r.match.MissingRequired) > 0
	switch {
	case r.pending != nil:
		call := r.pending
		r.pending = nil
		return call, "retry " + call.Tool(), false
	case r.match == nil:
		return MatchCall{Strategy: matcher.StrategyStandard}, "map column headers onto the field catalog", false
	case r.l1 == nil:
		return FormatCall{}, "check every cell against its field format", false
	case !missing && r.dups == nil:
		return DuplicateCall{}, "group rows sharing an employee key", false
	case !missing && r.l2 == nil:
		return CrossRecordCall{}, "check date logic within each record", false
	case r.l3 == nil:
		if missing {
			return ContextCall{}, "required fields missing, skip cross-record checks and apply context", false
		}
		return ContextCall{}, "apply learned patterns and answers to ambiguous findings", false
	case r.score == nil:
		return ScoreCall{}, "score confidence", false
	}
	return nil, "", true
}

// step executes one tool call and records the observation.
func (a *Agent) step(ctx context.Context, r *run, log *zap.Logger, call ToolCall, thought string) error {
	start := time.Now()
	obs, err := a.act(ctx, r, call)
	s := Step{
		Index:       len(r.steps) + 1,
		State:       StateObserving,
		Thought:     thought,
		Tool:        call.Tool(),
		Args:        call,
		Observation: obs,
		Success:     err == nil,
		Duration:    time.Since(start),
	}
	if err != nil {
		if s.Observation == "" {
			s.Observation = err.Error()
		} else {
			s.Observation += ": " + err.Error()
		}
	}
	r.steps = append(r.steps, s)
	a.recorder.Step(s.Tool, s.Success, s.Duration)
	if a.onStep != nil {
		a.onStep(r.in.Name, s)
	}

	fields := []zap.Field{
		zap.Int("step", s.Index),
		zap.String("tool", s.Tool),
		zap.String("observation", s.Observation),
		zap.Int64("duration_ms", s.Duration.Milliseconds()),
	}
	if err != nil {
		log.Warn("agent: step failed", append(fields, zap.Error(err))...)
	} else {
		log.Debug("agent: step complete", fields...)
	}
	return err
}

// act dispatches a tool call.
func (a *Agent) act(ctx context.Context, r *run, call ToolCall) (string, error) {
	switch c := call.(type) {
	case MatchCall:
		return a.actMatch(ctx, r, c.Strategy)

	case FormatCall:
		rep, err := a.validator.Format(ctx, r.ds)
		if err != nil {
			return "", err
		}
		r.l1 = rep
		return fmt.Sprintf("%d format finding(s), %d/%d checks passed", len(rep.Findings), rep.Stats.Passed, rep.Stats.Total), nil

	case DuplicateCall:
		r.dups = a.validator.DuplicateReport(r.ds)
		return fmt.Sprintf("%d duplicate group(s)", len(r.dups.Duplicates)), nil

	case CrossRecordCall:
		r.l2 = a.validator.Consistency(r.ds)
		return fmt.Sprintf("%d logic finding(s), %d/%d checks passed", len(r.l2.Findings), r.l2.Stats.Passed, r.l2.Stats.Total), nil

	case ContextCall:
		patterns, err := a.patterns(ctx)
		if err != nil {
			return "", err
		}
		rep, err := a.validator.Contextual(ctx, r.ds, r.prior(), patterns, r.in.Answers)
		if err != nil {
			return "", err
		}
		r.l3 = rep
		suppressed, asked := 0, 0
		for _, f := range rep.Findings {
			switch {
			case f.Suppressed:
				suppressed++
			case f.Severity == model.SeverityQuestion:
				asked++
			}
		}
		return fmt.Sprintf("%d pattern(s) loaded, %d finding(s) suppressed, %d question(s)", len(patterns), suppressed, asked), nil

	case ScoreCall:
		b := a.scorer.Score(ctx, confidence.Input{
			Stats:             r.stats(),
			Findings:          r.findings(),
			Headers:           r.in.Headers(),
			MappingConfidence: r.match.MeanConfidence(),
		})
		r.score = &b
		return fmt.Sprintf("overall confidence %.3f", b.Overall), nil

	default:
		return "", eris.Errorf("agent: unknown tool call %T", call)
	}
}

func (a *Agent) actMatch(ctx context.Context, r *run, s matcher.Strategy) (string, error) {
	res, err := a.matcher.Match(ctx, matcher.Request{
		RecordType: r.in.RecordType,
		Columns:    r.in.Columns,
		Overrides:  r.in.Overrides,
		Strategy:   s,
	})
	if err != nil {
		return "", err
	}

	// a new mapping invalidates everything downstream
	r.match = res
	r.ds = a.validator.Dataset(r.in.RecordType, r.in.Rows, res.Mappings, res.MissingRequired)
	r.l1, r.dups, r.l2, r.l3, r.score = nil, nil, nil, nil, nil

	mapped := 0
	for _, m := range res.Mappings {
		if m.Mapped() {
			mapped++
		}
	}
	obs := fmt.Sprintf("strategy %s mapped %d/%d column(s), mean confidence %.2f, %d required field(s) missing",
		s, mapped, len(res.Mappings), res.MeanConfidence(), len(res.MissingRequired))
	if mc := res.MappedConfidence(); mc < a.cfg.LowConfidence {
		return obs, eris.Wrapf(ErrLowMappingConfidence, "mapped columns average %.2f, below %.2f", mc, a.cfg.LowConfidence)
	}
	return obs, nil
}

func (a *Agent) patterns(ctx context.Context) ([]model.LearnedPattern, error) {
	if a.store == nil {
		return nil, nil
	}
	patterns, err := a.store.ListPatterns(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "agent: list patterns")
	}
	return patterns, nil
}

// recover consults the retry chain for a failed step. It returns an error
// only when a backoff wait is interrupted.
func (a *Agent) recover(ctx context.Context, r *run, log *zap.Logger, f Failure) error {
	rule, ok := ruleFor(a.chain, f)
	if !ok {
		r.force(model.DecisionAskHuman, fmt.Sprintf("%s failed: %v", f.Call.Tool(), f.Err))
		return nil
	}
	for {
		i := r.attempts[rule.Name]
		r.attempts[rule.Name]++
		if i >= len(rule.Actions) {
			r.force(model.DecisionAskHuman, fmt.Sprintf("%s: retries exhausted: %v", rule.Name, f.Err))
			return nil
		}
		act := rule.Actions[i]
		if act.Kind == ActionStrategy {
			if _, ok := f.Call.(MatchCall); !ok {
				continue
			}
		}
		a.recorder.Retry(rule.Name, act.String())
		log.Info("agent: recovering",
			zap.String("rule", rule.Name),
			zap.String("action", act.String()),
			zap.Int("attempt", i+1),
		)

		switch act.Kind {
		case ActionBackoff:
			d := a.cfg.Backoff.Delay(r.backoffs)
			r.backoffs++
			if err := a.sleep(ctx, d); err != nil {
				return eris.Wrap(err, "agent: backoff")
			}
			r.pending = f.Call
		case ActionStrategy:
			r.pending = MatchCall{Strategy: act.Strategy}
		case ActionReject:
			r.force(model.DecisionReject, fmt.Sprintf("%s: %v", rule.Name, f.Err))
		default:
			r.force(model.DecisionAskHuman, fmt.Sprintf("%s: %v", rule.Name, f.Err))
		}
		return nil
	}
}

func (r *run) force(typ model.DecisionType, reason string) {
	var b model.ConfidenceBreakdown
	if r.score != nil {
		b = *r.score
	}
	d := decision.Forced(typ, reason, b)
	r.forced = &d
}

// prior returns the L1 and L2 findings in stage order.
func (r *run) prior() []model.Finding {
	var out []model.Finding
	for _, rep := range []*validate.Report{r.l1, r.dups, r.l2} {
		if rep != nil {
			out = append(out, rep.Findings...)
		}
	}
	return out
}

// findings returns the latest view of every finding.
func (r *run) findings() []model.Finding {
	if r.l3 != nil {
		return r.l3.Findings
	}
	return r.prior()
}

func (r *run) stats() model.CheckStats {
	var s model.CheckStats
	for _, rep := range []*validate.Report{r.l1, r.dups, r.l2} {
		if rep != nil {
			s.Add(rep.Stats)
		}
	}
	return s
}

// finish builds the result and commits the decision.
func (a *Agent) finish(r *run) *Result {
	res := &Result{
		RunID:      r.id,
		Name:       r.in.Name,
		RecordType: r.in.RecordType,
		Findings:   r.findings(),
		Stats:      r.stats(),
		Steps:      r.steps,
		input:      r.in,
	}
	if r.match != nil {
		res.Mappings = r.match.Mappings
		res.Warnings = r.match.Warnings
		res.MissingRequired = r.match.MissingRequired
	}
	if r.dups != nil {
		res.Duplicates = r.dups.Duplicates
	}
	if r.score != nil {
		res.Confidence = *r.score
	}

	if r.forced != nil {
		res.Decision = *r.forced
	} else {
		res.Decision = decision.Decide(a.cfg.Thresholds, res.Confidence, model.CountUnresolved(res.Findings))
	}

	res.State = StateComplete
	if res.Decision.Type == model.DecisionAskHuman {
		res.State = StateWaitingHuman
	}
	res.Questions = questions(res.Findings, res.Mappings, res.Warnings, res.MissingRequired)

	if a.cfg.ApplyFixes && res.Decision.Type == model.DecisionAutoCorrect && r.ds != nil {
		res.AppliedFixes = r.ds.ApplyFixes(res.Findings)
		res.CorrectedRows = r.ds.Rows()
	}
	return res
}
