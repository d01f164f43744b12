package model

import (
	"crypto/md5" //nolint:gosec // case ids only need to be stable, not secure
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ConditionOp is a comparison used in a pattern trigger.
type ConditionOp string

const (
	OpEq       ConditionOp = "eq"
	OpNe       ConditionOp = "ne"
	OpIn       ConditionOp = "in"
	OpContains ConditionOp = "contains"
	OpGte      ConditionOp = "gte"
	OpLte      ConditionOp = "lte"
)

// Condition tests one record field or derived context value.
type Condition struct {
	Field string      `json:"field" yaml:"field"`
	Op    ConditionOp `json:"op" yaml:"op"`
	Value string      `json:"value" yaml:"value"`
}

func (c Condition) String() string {
	sym := map[ConditionOp]string{
		OpEq: "=", OpNe: "!=", OpIn: "in", OpContains: "contains", OpGte: ">=", OpLte: "<=",
	}[c.Op]
	if sym == "" {
		sym = string(c.Op)
	}
	return fmt.Sprintf("%s %s %s", c.Field, sym, c.Value)
}

// EffectKind is what a matching pattern does to a finding.
type EffectKind string

const (
	EffectSuppress  EffectKind = "suppress"
	EffectDowngrade EffectKind = "downgrade"
)

// Effect is the exception a pattern applies.
type Effect struct {
	Kind     EffectKind `json:"kind" yaml:"kind"`
	Severity Severity   `json:"severity,omitempty" yaml:"severity"`
}

// LearnedPattern is a stored exception rule derived from confirmed cases.
type LearnedPattern struct {
	ID          string      `json:"id"`
	Code        string      `json:"code"`
	Conditions  []Condition `json:"conditions"`
	Effect      Effect      `json:"effect"`
	Description string      `json:"description"`
	SourceCases []string    `json:"source_cases,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Describe renders the trigger predicate in a human-readable form.
func (p LearnedPattern) Describe() string {
	parts := make([]string, 0, len(p.Conditions)+1)
	for _, c := range p.Conditions {
		parts = append(parts, c.String())
	}
	parts = append(parts, "finding "+p.Code)
	return fmt.Sprintf("%s when %s", p.Effect.Kind, strings.Join(parts, " and "))
}

// PatternID derives a stable id from the trigger so re-learning the same
// exception upserts instead of duplicating.
func PatternID(code string, conds []Condition, effect Effect) string {
	keys := make([]string, len(conds))
	for i, c := range conds {
		keys[i] = c.String()
	}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(code + "|" + strings.Join(keys, "&") + "|" + string(effect.Kind) + string(effect.Severity)))
	return "pat_" + hex.EncodeToString(sum[:8])
}

// CaseOutcome summarizes how a past run ended.
type CaseOutcome struct {
	Decision         DecisionType `json:"decision"`
	Overall          float64      `json:"overall"`
	AutoApproved     bool         `json:"auto_approved"`
	HumanCorrections int          `json:"human_corrections"`
}

// Case is one remembered validation run keyed by its header set.
type Case struct {
	ID         string            `json:"id"`
	RecordType RecordType        `json:"record_type"`
	Headers    []string          `json:"headers"`
	Mappings   map[string]string `json:"mappings"`
	Outcome    CaseOutcome       `json:"outcome"`
	CreatedAt  time.Time         `json:"created_at"`
}

// CaseMatch is a prior case with its header-set similarity.
type CaseMatch struct {
	Case       Case    `json:"case"`
	Similarity float64 `json:"similarity"`
}

// CaseStats summarizes the store contents.
type CaseStats struct {
	Total           int `json:"total"`
	AutoApproved    int `json:"auto_approved"`
	ManualCorrected int `json:"manual_corrected"`
	Patterns        int `json:"patterns"`
}

// FixStats is the historical outcome count for one finding code's fixes.
type FixStats struct {
	Code      string `json:"code"`
	Attempts  int    `json:"attempts"`
	Successes int    `json:"successes"`
}

// Rate returns the success rate, or prior when there is no history.
func (s FixStats) Rate(prior float64) float64 {
	if s.Attempts == 0 {
		return prior
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// NormalizeHeader lowercases and collapses whitespace for case keys.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// CaseID hashes the sorted normalized header set.
func CaseID(headers []string) string {
	norm := HeaderSet(headers)
	sum := md5.Sum([]byte(strings.Join(norm, "|"))) //nolint:gosec
	return hex.EncodeToString(sum[:])[:12]
}

// HeaderSet returns the sorted, de-duplicated normalized headers.
func HeaderSet(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		n := NormalizeHeader(h)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Jaccard returns |a∩b| / |a∪b| over normalized header sets.
func Jaccard(a, b []string) float64 {
	sa := make(map[string]bool, len(a))
	for _, h := range HeaderSet(a) {
		sa[h] = true
	}
	sb := make(map[string]bool, len(b))
	for _, h := range HeaderSet(b) {
		sb[h] = true
	}
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for h := range sa {
		if sb[h] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}
