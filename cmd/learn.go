package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/roster-validator/internal/casestore"
	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/schema"
)

var learnCmd = &cobra.Command{
	Use:   "learn <corrections.yaml>",
	Short: "Teach the store header mappings, exception patterns and fix outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("learn"); err != nil {
			return err
		}
		c, err := loadCorrections(args[0])
		if err != nil {
			return err
		}
		reg, err := initRegistry(cfg.Schema)
		if err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := applyCorrections(ctx, st, reg, c)
		if err != nil {
			return err
		}
		zap.L().Info("corrections applied",
			zap.Int("headers", n.Headers),
			zap.Int("patterns", n.Patterns),
			zap.Int("fix_outcomes", n.Fixes),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(learnCmd)
}

// corrections is the human-authored file accepted by `roster learn`.
type corrections struct {
	RecordType string            `yaml:"record_type"`
	Headers    map[string]string `yaml:"headers"`
	Patterns   []patternEntry    `yaml:"patterns"`
	Fixes      []fixOutcomeEntry `yaml:"fixes"`
}

type patternEntry struct {
	Code        string            `yaml:"code"`
	Description string            `yaml:"description"`
	Conditions  []model.Condition `yaml:"conditions"`
	Effect      model.Effect      `yaml:"effect"`
}

type fixOutcomeEntry struct {
	Code    string `yaml:"code"`
	Success bool   `yaml:"success"`
}

type learnCounts struct {
	Headers  int
	Patterns int
	Fixes    int
}

func loadCorrections(path string) (*corrections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read corrections file")
	}
	var c corrections
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "parse corrections file")
	}
	return &c, nil
}

// applyCorrections validates the whole file before writing anything, then
// upserts every entry.
func applyCorrections(ctx context.Context, st casestore.Store, reg *schema.Registry, c *corrections) (learnCounts, error) {
	var n learnCounts
	rt, err := recordType(c.RecordType)
	if err != nil {
		return n, err
	}
	if rt == "" {
		rt = model.RecordActive
	}

	for header, field := range c.Headers {
		if reg.ByName(rt, field) == nil {
			return n, eris.Errorf("learn: header %q maps to unknown %s field %q", header, rt, field)
		}
	}
	patterns := make([]model.LearnedPattern, 0, len(c.Patterns))
	for i, p := range c.Patterns {
		lp, err := p.pattern()
		if err != nil {
			return n, eris.Wrapf(err, "learn: pattern %d", i+1)
		}
		patterns = append(patterns, lp)
	}
	for i, f := range c.Fixes {
		if f.Code == "" {
			return n, eris.Errorf("learn: fix outcome %d has no code", i+1)
		}
	}

	for header, field := range c.Headers {
		if err := st.UpsertHeaderMapping(ctx, rt, header, field); err != nil {
			return n, err
		}
		n.Headers++
	}
	for _, p := range patterns {
		if err := st.UpsertPattern(ctx, p); err != nil {
			return n, err
		}
		n.Patterns++
	}
	for _, f := range c.Fixes {
		if err := st.RecordFixOutcome(ctx, f.Code, f.Success); err != nil {
			return n, err
		}
		n.Fixes++
	}
	return n, nil
}

func (p patternEntry) pattern() (model.LearnedPattern, error) {
	if p.Code == "" {
		return model.LearnedPattern{}, eris.New("code is required")
	}
	if len(p.Conditions) == 0 {
		return model.LearnedPattern{}, eris.New("at least one condition is required")
	}
	for _, c := range p.Conditions {
		switch c.Op {
		case model.OpEq, model.OpNe, model.OpIn, model.OpContains, model.OpGte, model.OpLte:
		default:
			return model.LearnedPattern{}, eris.Errorf("condition on %q has unknown op %q", c.Field, c.Op)
		}
		if c.Field == "" {
			return model.LearnedPattern{}, eris.New("condition without field")
		}
	}
	eff := p.Effect
	switch eff.Kind {
	case "":
		eff.Kind = model.EffectSuppress
	case model.EffectSuppress:
	case model.EffectDowngrade:
		sev, err := model.ParseSeverity(string(eff.Severity))
		if err != nil {
			return model.LearnedPattern{}, err
		}
		eff.Severity = sev
	default:
		return model.LearnedPattern{}, eris.Errorf("unknown effect %q", eff.Kind)
	}

	lp := model.LearnedPattern{
		ID:          model.PatternID(p.Code, p.Conditions, eff),
		Code:        p.Code,
		Conditions:  p.Conditions,
		Effect:      eff,
		Description: p.Description,
		SourceCases: []string{"manual"},
	}
	if lp.Description == "" {
		lp.Description = lp.Describe()
	}
	return lp, nil
}
