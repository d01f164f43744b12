package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/roster-validator/internal/agent"
	"github.com/sells-group/roster-validator/internal/casestore"
	"github.com/sells-group/roster-validator/internal/classifier"
	"github.com/sells-group/roster-validator/internal/config"
	"github.com/sells-group/roster-validator/internal/confidence"
	"github.com/sells-group/roster-validator/internal/loader"
	"github.com/sells-group/roster-validator/internal/matcher"
	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/schema"
	"github.com/sells-group/roster-validator/internal/validate"
	anthropicpkg "github.com/sells-group/roster-validator/pkg/anthropic"
)

// validatorEnv holds the store, catalog and agent shared by the validate,
// batch and learn commands.
type validatorEnv struct {
	Store    casestore.Store
	Registry *schema.Registry
	Agent    *agent.Agent
	AI       *classifier.AI // nil when the AI tier is disabled
}

// Close releases resources held by the environment.
func (e *validatorEnv) Close() {
	if e.AI != nil {
		calls, usd := e.AI.Spent()
		zap.L().Info("ai classifier usage", zap.Int("calls", calls), zap.Float64("estimated_usd", usd))
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// LoaderOptions returns file parsing options bound to the active catalog.
func (e *validatorEnv) LoaderOptions(rt model.RecordType, sheet string) loader.Options {
	return loader.Options{
		RecordType: rt,
		Sheet:      sheet,
		Encoding:   cfg.Loader.Encoding,
		Registry:   e.Registry,
	}
}

// initEnv opens the store, loads the catalog and builds the agent. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string, opts ...agent.Option) (*validatorEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	reg, err := initRegistry(cfg.Schema)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	env := &validatorEnv{Store: st, Registry: reg, AI: initClassifier(cfg)}
	var ai classifier.Classifier
	if env.AI != nil {
		ai = env.AI
	}
	env.Agent, err = buildAgent(cfg, reg, st, ai, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (casestore.Store, error) {
	var (
		st  casestore.Store
		err error
	)
	switch sc.Driver {
	case config.DriverMemory:
		st = casestore.NewMemory()
	case config.DriverSQLite:
		st, err = casestore.NewSQLite(sc.Path)
	case config.DriverPostgres:
		st, err = casestore.NewPostgres(ctx, sc.DatabaseURL, &sc.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initRegistry(sc config.SchemaConfig) (*schema.Registry, error) {
	if sc.Catalog == "" {
		return schema.Default(), nil
	}
	reg, err := schema.LoadFile(sc.Catalog)
	if err != nil {
		return nil, eris.Wrap(err, "load schema catalog")
	}
	zap.L().Info("schema catalog loaded", zap.String("path", sc.Catalog), zap.Int("version", reg.Version))
	return reg, nil
}

// initClassifier returns nil when no API key is configured; the matcher
// then skips the AI tier.
func initClassifier(c *config.Config) *classifier.AI {
	if c.Anthropic.Key == "" {
		zap.L().Debug("ROSTER_ANTHROPIC_KEY not set, AI header matching disabled")
		return nil
	}
	return classifier.New(anthropicpkg.NewClient(c.Anthropic.Key), c.Classifier)
}

func buildAgent(c *config.Config, reg *schema.Registry, st casestore.Store, ai classifier.Classifier, opts ...agent.Option) (*agent.Agent, error) {
	m, err := matcher.New(reg, st, ai, c.Matcher)
	if err != nil {
		return nil, eris.Wrap(err, "build matcher")
	}
	rules, err := c.Validation.Rules()
	if err != nil {
		return nil, err
	}
	scorer, err := confidence.New(c.Confidence, st)
	if err != nil {
		return nil, eris.Wrap(err, "build scorer")
	}
	a, err := agent.New(m, validate.New(reg, rules), scorer, st, c.Agent, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "build agent")
	}
	return a, nil
}

func recordType(s string) (model.RecordType, error) {
	if s == "" {
		return "", nil
	}
	rt, ok := model.ParseRecordType(s)
	if !ok {
		return "", eris.Errorf("unknown record type %q (want active, retired or extra)", s)
	}
	return rt, nil
}

func elapsed(start time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(start))
}
