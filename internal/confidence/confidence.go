// Package confidence aggregates validation signals into one trust score.
package confidence

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/roster-validator/internal/casestore"
	"github.com/sells-group/roster-validator/internal/model"
)

// DefaultWeights returns the production factor weights. Weights sum to 1.
func DefaultWeights() model.ConfidenceWeights {
	return model.ConfidenceWeights{
		DataQuality:       0.30,
		RuleMatchRate:     0.25,
		FixStability:      0.20,
		CaseSimilarity:    0.15,
		MappingConfidence: 0.10,
	}
}

// ValidateWeights rejects negative weights and an all-zero set.
func ValidateWeights(w model.ConfidenceWeights) error {
	var errs []string
	for name, v := range map[string]float64{
		"data_quality":       w.DataQuality,
		"rule_match_rate":    w.RuleMatchRate,
		"fix_stability":      w.FixStability,
		"case_similarity":    w.CaseSimilarity,
		"mapping_confidence": w.MappingConfidence,
	} {
		if v < 0 || math.IsNaN(v) {
			errs = append(errs, fmt.Sprintf("%s weight %v is negative", name, v))
		}
	}
	if w.Sum() <= 0 {
		errs = append(errs, "weights sum to zero")
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("confidence: invalid weights: %s", strings.Join(errs, "; "))
	}
	return nil
}

// normalize scales weights to sum to 1.
func normalize(w model.ConfidenceWeights) model.ConfidenceWeights {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultWeights()
	}
	return model.ConfidenceWeights{
		DataQuality:       w.DataQuality / sum,
		RuleMatchRate:     w.RuleMatchRate / sum,
		FixStability:      w.FixStability / sum,
		CaseSimilarity:    w.CaseSimilarity / sum,
		MappingConfidence: w.MappingConfidence / sum,
	}
}

// Factors are the raw per-factor inputs, each expected in [0,1].
type Factors struct {
	DataQuality       float64
	RuleMatchRate     float64
	FixStability      float64
	CaseSimilarity    float64
	MappingConfidence float64
}

// Combine clamps every factor and the weighted total to [0,1].
func Combine(w model.ConfidenceWeights, f Factors) model.ConfidenceBreakdown {
	w = normalize(w)
	b := model.ConfidenceBreakdown{
		DataQuality:       clamp(f.DataQuality),
		RuleMatchRate:     clamp(f.RuleMatchRate),
		FixStability:      clamp(f.FixStability),
		CaseSimilarity:    clamp(f.CaseSimilarity),
		MappingConfidence: clamp(f.MappingConfidence),
		Weights:           w,
	}
	b.Overall = clamp(w.DataQuality*b.DataQuality +
		w.RuleMatchRate*b.RuleMatchRate +
		w.FixStability*b.FixStability +
		w.CaseSimilarity*b.CaseSimilarity +
		w.MappingConfidence*b.MappingConfidence)
	return b
}

// DataQuality is 1 − error cells / checkable cells, 0 when nothing was
// checkable.
func DataQuality(s model.CheckStats) float64 {
	if s.CheckableCells <= 0 {
		return 0
	}
	return clamp(1 - float64(s.ErrorCells)/float64(s.CheckableCells))
}

// RuleMatchRate is passed / total checks, 0 when nothing ran.
func RuleMatchRate(s model.CheckStats) float64 {
	if s.Total <= 0 {
		return 0
	}
	return clamp(float64(s.Passed) / float64(s.Total))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// Config tunes the scorer.
type Config struct {
	Weights model.ConfidenceWeights `mapstructure:"weights" yaml:"weights"`
	// FixPrior is the fix success rate assumed for codes without history.
	FixPrior float64 `mapstructure:"fix_prior" yaml:"fix_prior"`
	// CaseMinOverlap is the header-set Jaccard floor for prior cases.
	CaseMinOverlap float64 `mapstructure:"case_min_overlap" yaml:"case_min_overlap"`
}

// DefaultConfig returns the scorer defaults.
func DefaultConfig() Config {
	return Config{
		Weights:        DefaultWeights(),
		FixPrior:       0.5,
		CaseMinOverlap: casestore.DefaultMinOverlap,
	}
}

// Input is everything the scorer reads for one run.
type Input struct {
	Stats             model.CheckStats
	Findings          []model.Finding
	Headers           []string
	MappingConfidence float64
}

// Scorer computes a ConfidenceBreakdown, reading fix history and prior cases
// from the store. A nil store scores without history.
type Scorer struct {
	cfg   Config
	store casestore.Store
}

// New creates a Scorer.
func New(cfg Config, store casestore.Store) (*Scorer, error) {
	if cfg.Weights == (model.ConfidenceWeights{}) {
		cfg.Weights = DefaultWeights()
	}
	if err := ValidateWeights(cfg.Weights); err != nil {
		return nil, err
	}
	if cfg.CaseMinOverlap <= 0 {
		cfg.CaseMinOverlap = casestore.DefaultMinOverlap
	}
	return &Scorer{cfg: cfg, store: store}, nil
}

// Score computes the breakdown. Store read failures degrade the affected
// factor instead of failing the run.
func (s *Scorer) Score(ctx context.Context, in Input) model.ConfidenceBreakdown {
	return Combine(s.cfg.Weights, Factors{
		DataQuality:       DataQuality(in.Stats),
		RuleMatchRate:     RuleMatchRate(in.Stats),
		FixStability:      s.fixStability(ctx, in.Findings),
		CaseSimilarity:    s.caseSimilarity(ctx, in.Headers),
		MappingConfidence: in.MappingConfidence,
	})
}

// fixStability averages the historical success rate over the codes of the
// proposed fixes. No proposed fix scores 1.
func (s *Scorer) fixStability(ctx context.Context, findings []model.Finding) float64 {
	codes := FixCodes(findings)
	if len(codes) == 0 {
		return 1
	}
	var total float64
	for _, code := range codes {
		rate := s.cfg.FixPrior
		if s.store != nil {
			st, err := s.store.FixStats(ctx, code)
			if err != nil {
				zap.L().Warn("confidence: fix stats unavailable", zap.String("code", code), zap.Error(err))
			} else {
				rate = st.Rate(s.cfg.FixPrior)
			}
		}
		total += rate
	}
	return total / float64(len(codes))
}

// caseSimilarity is the best header-set similarity to an auto-approved case.
func (s *Scorer) caseSimilarity(ctx context.Context, headers []string) float64 {
	if s.store == nil || len(headers) == 0 {
		return 0
	}
	matches, err := s.store.FindSimilarCases(ctx, headers, s.cfg.CaseMinOverlap, 20)
	if err != nil {
		zap.L().Warn("confidence: case lookup failed", zap.Error(err))
		return 0
	}
	best := 0.0
	for _, m := range matches {
		if m.Case.Outcome.AutoApproved && m.Similarity > best {
			best = m.Similarity
		}
	}
	return best
}

// FixCodes returns the sorted distinct codes of unsuppressed findings that
// carry a suggested fix.
func FixCodes(findings []model.Finding) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, f := range findings {
		if f.SuggestedFix == nil || f.Suppressed || seen[f.Code] {
			continue
		}
		seen[f.Code] = true
		codes = append(codes, f.Code)
	}
	sort.Strings(codes)
	return codes
}
