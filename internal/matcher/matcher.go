// Package matcher resolves raw roster column headers onto the standard field
// catalog through a learned tier, an AI tier and a deterministic similarity
// fallback.
package matcher

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/roster-validator/internal/casestore"
	"github.com/sells-group/roster-validator/internal/classifier"
	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/schema"
	"github.com/sells-group/roster-validator/internal/textsim"
)

// Strategy selects the acceptance threshold and whether the AI tier runs.
type Strategy string

const (
	StrategyStandard     Strategy = "standard"
	StrategyStrict       Strategy = "strict"
	StrategyLenient      Strategy = "lenient"
	StrategyFallbackOnly Strategy = "fallback_only"
)

// SkipOverride pins a column as skipped when used as an override value.
const SkipOverride = "-"

// DefaultIgnorePatterns match free-text remark, blank and placeholder headers.
var DefaultIgnorePatterns = []string{
	`^$`,
	`^(참고사항|참고|비고|메모|note|notes|remark|remarks|comment|comments|컬럼)$`,
	`^unnamed`,
	`^column\s*\d*$`,
}

// Config tunes matching.
type Config struct {
	Threshold        float64  `mapstructure:"threshold" yaml:"threshold"`
	StrictThreshold  float64  `mapstructure:"strict_threshold" yaml:"strict_threshold"`
	LenientThreshold float64  `mapstructure:"lenient_threshold" yaml:"lenient_threshold"`
	LowConfidence    float64  `mapstructure:"low_confidence" yaml:"low_confidence"`
	MaxUnmappedRatio float64  `mapstructure:"max_unmapped_ratio" yaml:"max_unmapped_ratio"`
	IgnorePatterns   []string `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:        0.70,
		StrictThreshold:  0.90,
		LenientThreshold: 0.50,
		LowConfidence:    0.80,
		MaxUnmappedRatio: 0.20,
		IgnorePatterns:   DefaultIgnorePatterns,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.StrictThreshold <= 0 {
		c.StrictThreshold = d.StrictThreshold
	}
	if c.LenientThreshold <= 0 {
		c.LenientThreshold = d.LenientThreshold
	}
	if c.LowConfidence <= 0 {
		c.LowConfidence = d.LowConfidence
	}
	if c.MaxUnmappedRatio <= 0 {
		c.MaxUnmappedRatio = d.MaxUnmappedRatio
	}
	if c.IgnorePatterns == nil {
		c.IgnorePatterns = d.IgnorePatterns
	}
	return c
}

// Request is one matching pass.
type Request struct {
	RecordType model.RecordType
	Columns    []model.SourceColumn
	// Overrides pins header → field. SkipOverride marks the column skipped.
	Overrides map[string]string
	Strategy  Strategy
}

// Result is the outcome of a matching pass.
type Result struct {
	Strategy        Strategy              `json:"strategy"`
	Mappings        []model.HeaderMapping `json:"mappings"`
	Warnings        []model.Warning       `json:"warnings,omitempty"`
	MissingRequired []string              `json:"missing_required,omitempty"`
	// AIUsed is false when the AI tier was disabled or unavailable.
	AIUsed bool `json:"ai_used"`
}

// MeanConfidence averages the confidence of non-skipped columns, counting
// each missing required field as an extra zero.
func (r *Result) MeanConfidence() float64 {
	var sum float64
	n := len(r.MissingRequired)
	for _, m := range r.Mappings {
		if m.Skipped {
			continue
		}
		n++
		if m.Mapped() {
			sum += m.Confidence
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// MappedConfidence averages the confidence of mapped columns only, 0 when
// nothing mapped.
func (r *Result) MappedConfidence() float64 {
	var sum float64
	n := 0
	for _, m := range r.Mappings {
		if m.Mapped() {
			sum += m.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Matcher maps headers onto the schema registry.
type Matcher struct {
	registry *schema.Registry
	store    casestore.Store
	ai       classifier.Classifier
	cfg      Config
	ignore   []*regexp.Regexp
}

// New creates a Matcher. store and ai may be nil to disable those tiers.
func New(registry *schema.Registry, store casestore.Store, ai classifier.Classifier, cfg Config) (*Matcher, error) {
	cfg = cfg.withDefaults()
	m := &Matcher{registry: registry, store: store, ai: ai, cfg: cfg}
	for _, p := range cfg.IgnorePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, eris.Wrapf(err, "matcher: compile ignore pattern %q", p)
		}
		m.ignore = append(m.ignore, re)
	}
	return m, nil
}

func (m *Matcher) threshold(s Strategy) float64 {
	switch s {
	case StrategyStrict:
		return m.cfg.StrictThreshold
	case StrategyLenient:
		return m.cfg.LenientThreshold
	}
	return m.cfg.Threshold
}

// Ignored reports whether a header is a remark/blank/placeholder column.
func (m *Matcher) Ignored(header string) bool {
	n := textsim.Normalize(header)
	for _, re := range m.ignore {
		if re.MatchString(n) {
			return true
		}
	}
	return false
}

// Match resolves every column of req. It fails only on empty input or when
// the case store cannot be read; AI failures degrade to the fallback tier.
func (m *Matcher) Match(ctx context.Context, req Request) (*Result, error) {
	if len(req.Columns) == 0 {
		return nil, model.InputErrorf("matcher: no columns")
	}
	if req.Strategy == "" {
		req.Strategy = StrategyStandard
	}
	if req.RecordType == "" {
		req.RecordType = model.RecordActive
	}
	catalog := m.registry.Fields(req.RecordType)
	if len(catalog) == 0 {
		return nil, model.InputErrorf("matcher: unknown record type %q", req.RecordType)
	}
	threshold := m.threshold(req.Strategy)
	log := zap.L().With(zap.String("record_type", string(req.RecordType)), zap.String("strategy", string(req.Strategy)))

	res := &Result{Strategy: req.Strategy, Mappings: make([]model.HeaderMapping, len(req.Columns))}
	var pending []int
	for i, col := range req.Columns {
		mp := model.HeaderMapping{Column: col}
		switch {
		case req.Overrides[col.Header] == SkipOverride:
			mp.Skipped, mp.Method, mp.Note = true, model.MethodManual, "skipped by override"
		case req.Overrides[col.Header] != "" && m.registry.ByName(req.RecordType, req.Overrides[col.Header]) != nil:
			mp.Field, mp.Confidence, mp.Method = req.Overrides[col.Header], 1.0, model.MethodManual
		case m.Ignored(col.Header):
			mp.Skipped, mp.Note = true, "ignored header"
		default:
			field, ok, err := m.lookupLearned(ctx, req.RecordType, col.Header)
			if err != nil {
				return nil, err
			}
			if ok {
				mp.Field, mp.Confidence, mp.Method = field, 1.0, model.MethodLearned
			} else {
				pending = append(pending, i)
			}
		}
		res.Mappings[i] = mp
	}

	suggestions := m.classify(ctx, req, catalog, pending, res)
	for _, i := range pending {
		mp := &res.Mappings[i]
		if s, ok := suggestions[mp.Column.Header]; ok && s.Field != "" && s.Confidence >= threshold {
			mp.Field, mp.Confidence, mp.Method = s.Field, s.Confidence, model.MethodAI
			continue
		}
		ranked := rankFields(mp.Column.Header, catalog)
		if len(ranked) > 0 && ranked[0].score >= threshold {
			mp.Field, mp.Confidence, mp.Method = ranked[0].field, ranked[0].score, model.MethodFallback
			continue
		}
		mp.Method = model.MethodFallback
		mp.Note = "no field above threshold"
		res.Warnings = append(res.Warnings, unmappedWarning(mp.Column.Header, ranked))
	}

	res.Warnings = append(res.Warnings, resolveConflicts(res.Mappings)...)
	res.MissingRequired = m.missingRequired(req.RecordType, res.Mappings)
	res.Warnings = append(res.Warnings, m.datasetWarnings(res)...)

	log.Debug("matcher: matched headers",
		zap.Int("columns", len(req.Columns)),
		zap.Int("missing_required", len(res.MissingRequired)),
		zap.Bool("ai_used", res.AIUsed),
	)
	return res, nil
}

func (m *Matcher) lookupLearned(ctx context.Context, rt model.RecordType, header string) (string, bool, error) {
	if m.store == nil {
		return "", false, nil
	}
	field, ok, err := m.store.LookupHeader(ctx, rt, header)
	if err != nil {
		return "", false, eris.Wrapf(err, "matcher: lookup learned header %q", header)
	}
	if !ok || m.registry.ByName(rt, field) == nil {
		return "", false, nil
	}
	return field, true, nil
}

// classify runs the AI tier over the pending columns. Failures are recorded
// as an informational warning and yield no suggestions.
func (m *Matcher) classify(ctx context.Context, req Request, catalog []model.CanonicalField, pending []int, res *Result) map[string]classifier.Suggestion {
	if m.ai == nil || req.Strategy == StrategyFallbackOnly || len(pending) == 0 {
		return nil
	}
	cols := make([]model.SourceColumn, len(pending))
	for i, idx := range pending {
		cols[i] = req.Columns[idx]
	}
	suggestions, err := m.ai.Classify(ctx, req.RecordType, cols, catalog)
	if err != nil {
		zap.L().Info("matcher: ai classification unavailable, using fallback", zap.Error(err))
		res.Warnings = append(res.Warnings, model.Warning{
			Code:     model.WarnCapabilityUnavailable,
			Severity: model.SeverityInfo,
			Message:  "AI header classification unavailable; similarity fallback used",
		})
		return nil
	}
	res.AIUsed = true
	out := make(map[string]classifier.Suggestion, len(suggestions))
	for _, s := range suggestions {
		out[s.Header] = s
	}
	return out
}

type fieldScore struct {
	field string
	score float64
}

// rankFields scores every catalog field against header by the best
// similarity over its name and aliases, best first.
func rankFields(header string, catalog []model.CanonicalField) []fieldScore {
	out := make([]fieldScore, 0, len(catalog))
	for _, f := range catalog {
		best := 0.0
		for _, c := range f.Candidates() {
			best = max(best, textsim.KeyRatio(header, c))
		}
		out = append(out, fieldScore{field: f.Name, score: best})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func unmappedWarning(header string, ranked []fieldScore) model.Warning {
	var cands []string
	for _, r := range ranked {
		if len(cands) == 3 || r.score == 0 {
			break
		}
		cands = append(cands, r.field)
	}
	msg := fmt.Sprintf("column %q did not match any standard field", header)
	if len(cands) > 0 {
		msg = fmt.Sprintf("column %q did not match any standard field; is it one of %s?", header, strings.Join(cands, ", "))
	}
	return model.Warning{
		Code:       model.WarnUnmappedColumn,
		Severity:   model.SeverityQuestion,
		Column:     header,
		Message:    msg,
		Candidates: cands,
	}
}

// resolveConflicts keeps one column per field: the higher confidence wins
// and ties go to the earlier column. Losers are demoted to unmapped.
func resolveConflicts(mappings []model.HeaderMapping) []model.Warning {
	winner := make(map[string]int)
	for i, mp := range mappings {
		if !mp.Mapped() {
			continue
		}
		j, seen := winner[mp.Field]
		if !seen || mp.Confidence > mappings[j].Confidence {
			winner[mp.Field] = i
		}
	}

	var warnings []model.Warning
	for i := range mappings {
		mp := &mappings[i]
		if !mp.Mapped() || winner[mp.Field] == i {
			continue
		}
		w := mappings[winner[mp.Field]]
		warnings = append(warnings, model.Warning{
			Code:     model.WarnMappingConflict,
			Severity: model.SeverityWarning,
			Column:   mp.Column.Header,
			Field:    mp.Field,
			Message: fmt.Sprintf("columns %q and %q both matched %s; kept %q",
				w.Column.Header, mp.Column.Header, mp.Field, w.Column.Header),
		})
		mp.Note = fmt.Sprintf("lost %s to column %q", mp.Field, w.Column.Header)
		mp.Field, mp.Confidence = "", 0
	}
	return warnings
}

func (m *Matcher) missingRequired(rt model.RecordType, mappings []model.HeaderMapping) []string {
	mapped := model.FieldIndex(mappings)
	var missing []string
	for _, name := range m.registry.Required(rt) {
		if _, ok := mapped[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func (m *Matcher) datasetWarnings(res *Result) []model.Warning {
	var out []model.Warning
	for _, name := range res.MissingRequired {
		out = append(out, model.Warning{
			Code:     model.WarnMissingRequired,
			Severity: model.SeverityError,
			Field:    name,
			Message:  fmt.Sprintf("required field %s has no matching column", name),
		})
	}

	eligible, unmapped := 0, 0
	for _, mp := range res.Mappings {
		if mp.Skipped {
			continue
		}
		eligible++
		if !mp.Mapped() {
			unmapped++
			continue
		}
		if mp.Confidence < m.cfg.LowConfidence {
			out = append(out, model.Warning{
				Code:     model.WarnLowConfidence,
				Severity: model.SeverityWarning,
				Column:   mp.Column.Header,
				Field:    mp.Field,
				Message:  fmt.Sprintf("column %q mapped to %s with confidence %.2f", mp.Column.Header, mp.Field, mp.Confidence),
			})
		}
	}
	if eligible > 0 && float64(unmapped)/float64(eligible) > m.cfg.MaxUnmappedRatio {
		out = append(out, model.Warning{
			Code:     model.WarnHighUnmappedRatio,
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("%d of %d columns are unmapped", unmapped, eligible),
		})
	}
	return out
}
