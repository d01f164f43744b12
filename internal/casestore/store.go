// Package casestore persists past validation cases, learned header mappings,
// learned exception patterns and auto-fix outcomes.
package casestore

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/textsim"
)

// Store is the shared learning repository. Every write is a keyed,
// idempotent upsert; implementations must be safe for concurrent use.
type Store interface {
	// Cases
	UpsertCase(ctx context.Context, c model.Case) error
	GetCase(ctx context.Context, id string) (*model.Case, error)
	FindSimilarCases(ctx context.Context, headers []string, minOverlap float64, limit int) ([]model.CaseMatch, error)

	// Learned header mappings
	UpsertHeaderMapping(ctx context.Context, rt model.RecordType, header, field string) error
	LookupHeader(ctx context.Context, rt model.RecordType, header string) (string, bool, error)

	// Learned patterns
	UpsertPattern(ctx context.Context, p model.LearnedPattern) error
	ListPatterns(ctx context.Context) ([]model.LearnedPattern, error)

	// Auto-fix history
	RecordFixOutcome(ctx context.Context, code string, success bool) error
	FixStats(ctx context.Context, code string) (model.FixStats, error)

	Stats(ctx context.Context) (model.CaseStats, error)
	Migrate(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned when a keyed lookup has no row.
var ErrNotFound = eris.New("casestore: not found")

// DefaultMinOverlap is the Jaccard floor for FindSimilarCases.
const DefaultMinOverlap = 0.3

// HeaderKey folds a header for learned-mapping lookups.
func HeaderKey(header string) string {
	return textsim.Key(header)
}

// prepareCase fills derived fields before a write.
func prepareCase(c model.Case) (model.Case, error) {
	if len(c.Headers) == 0 {
		return c, eris.New("casestore: case without headers")
	}
	if c.ID == "" {
		c.ID = model.CaseID(c.Headers)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Mappings == nil {
		c.Mappings = map[string]string{}
	}
	return c, nil
}

// preparePattern fills the id and timestamps before a write.
func preparePattern(p model.LearnedPattern) (model.LearnedPattern, error) {
	if p.Code == "" {
		return p, eris.New("casestore: pattern without finding code")
	}
	if p.Effect.Kind == "" {
		p.Effect.Kind = model.EffectSuppress
	}
	if p.ID == "" {
		p.ID = model.PatternID(p.Code, p.Conditions, p.Effect)
	}
	if p.Description == "" {
		p.Description = p.Describe()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return p, nil
}

// mergePattern folds an incoming upsert into an existing pattern: provenance
// is unioned and the original creation time kept.
func mergePattern(existing, incoming model.LearnedPattern) model.LearnedPattern {
	out := incoming
	out.CreatedAt = existing.CreatedAt
	out.SourceCases = unionStrings(existing.SourceCases, incoming.SourceCases)
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// rankMatches scores cases against headers and keeps the best ones.
func rankMatches(cases []model.Case, headers []string, minOverlap float64, limit int) []model.CaseMatch {
	var out []model.CaseMatch
	for _, c := range cases {
		sim := model.Jaccard(headers, c.Headers)
		if sim >= minOverlap {
			out = append(out, model.CaseMatch{Case: c, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Case.CreatedAt.After(out[j].Case.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
