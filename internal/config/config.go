package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/roster-validator/internal/agent"
	"github.com/sells-group/roster-validator/internal/batch"
	"github.com/sells-group/roster-validator/internal/casestore"
	"github.com/sells-group/roster-validator/internal/classifier"
	"github.com/sells-group/roster-validator/internal/confidence"
	"github.com/sells-group/roster-validator/internal/matcher"
	"github.com/sells-group/roster-validator/internal/validate"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Classifier classifier.Config `yaml:"classifier" mapstructure:"classifier"`
	Schema     SchemaConfig      `yaml:"schema" mapstructure:"schema"`
	Loader     LoaderConfig      `yaml:"loader" mapstructure:"loader"`
	Matcher    matcher.Config    `yaml:"matcher" mapstructure:"matcher"`
	Validation ValidateConfig    `yaml:"validate" mapstructure:"validate"`
	Confidence confidence.Config `yaml:"confidence" mapstructure:"confidence"`
	Agent      agent.Config      `yaml:"agent" mapstructure:"agent"`
	Batch      BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Log        LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the case store backend.
type StoreConfig struct {
	Driver      string               `yaml:"driver" mapstructure:"driver"`
	Path        string               `yaml:"path" mapstructure:"path"`
	DatabaseURL string               `yaml:"database_url" mapstructure:"database_url"`
	Pool        casestore.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API credentials. An empty key disables the
// AI matching tier.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// SchemaConfig points at an alternative field catalog.
type SchemaConfig struct {
	Catalog string `yaml:"catalog" mapstructure:"catalog"`
}

// LoaderConfig configures roster file parsing.
type LoaderConfig struct {
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
}

// ValidateConfig wraps the rule constants with a reference date.
type ValidateConfig struct {
	validate.Config `yaml:",inline" mapstructure:",squash"`
	// AsOf is the reference date (YYYY-MM-DD). Empty means today.
	AsOf string `yaml:"as_of" mapstructure:"as_of"`
}

// Rules returns the validator config with AsOf resolved.
func (c ValidateConfig) Rules() (validate.Config, error) {
	rules := c.Config
	if c.AsOf != "" {
		t, err := time.Parse("2006-01-02", c.AsOf)
		if err != nil {
			return rules, eris.Wrapf(err, "config: parse validate.as_of %q", c.AsOf)
		}
		rules.AsOf = t
	}
	return rules, nil
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ROSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "roster-cases.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("classifier.model", "claude-haiku-4-5-20251001")
	v.SetDefault("classifier.max_tokens", 2048)
	v.SetDefault("classifier.timeout", "20s")
	v.SetDefault("classifier.rate_per_sec", 2.0)
	v.SetDefault("classifier.burst", 2)
	v.SetDefault("classifier.max_samples", 3)
	v.SetDefault("classifier.max_attempts", 2)
	v.SetDefault("classifier.breaker.threshold", 5)
	v.SetDefault("classifier.breaker.cooldown", "30s")

	m := matcher.DefaultConfig()
	v.SetDefault("matcher.threshold", m.Threshold)
	v.SetDefault("matcher.strict_threshold", m.StrictThreshold)
	v.SetDefault("matcher.lenient_threshold", m.LenientThreshold)
	v.SetDefault("matcher.low_confidence", m.LowConfidence)
	v.SetDefault("matcher.max_unmapped_ratio", m.MaxUnmappedRatio)
	v.SetDefault("matcher.ignore_patterns", m.IgnorePatterns)

	r := validate.DefaultConfig()
	v.SetDefault("validate.min_wage", r.MinWage)
	v.SetDefault("validate.birth_year_floor", r.BirthYearFloor)
	v.SetDefault("validate.usual_birth_year_min", r.UsualBirthYearMin)
	v.SetDefault("validate.usual_birth_year_max", r.UsualBirthYearMax)
	v.SetDefault("validate.min_working_age", r.MinWorkingAge)
	v.SetDefault("validate.hire_age_outlier", r.HireAgeOutlier)
	v.SetDefault("validate.key_field", r.KeyField)
	v.SetDefault("validate.suspicious_distance", r.SuspiciousDistance)
	v.SetDefault("validate.headcount_tolerance", r.HeadcountTolerance)
	v.SetDefault("validate.concurrency", r.Concurrency)

	c := confidence.DefaultConfig()
	v.SetDefault("confidence.weights.data_quality", c.Weights.DataQuality)
	v.SetDefault("confidence.weights.rule_match_rate", c.Weights.RuleMatchRate)
	v.SetDefault("confidence.weights.fix_stability", c.Weights.FixStability)
	v.SetDefault("confidence.weights.case_similarity", c.Weights.CaseSimilarity)
	v.SetDefault("confidence.weights.mapping_confidence", c.Weights.MappingConfidence)
	v.SetDefault("confidence.fix_prior", c.FixPrior)
	v.SetDefault("confidence.case_min_overlap", c.CaseMinOverlap)

	a := agent.DefaultConfig()
	v.SetDefault("agent.max_steps", a.MaxSteps)
	v.SetDefault("agent.low_confidence", a.LowConfidence)
	v.SetDefault("agent.backoff.initial", a.Backoff.Initial.String())
	v.SetDefault("agent.backoff.max", a.Backoff.Max.String())
	v.SetDefault("agent.backoff.multiplier", a.Backoff.Multiplier)
	v.SetDefault("agent.backoff.jitter", a.Backoff.Jitter)
	v.SetDefault("agent.thresholds.auto_complete", a.Thresholds.AutoComplete)
	v.SetDefault("agent.thresholds.auto_correct", a.Thresholds.AutoCorrect)
	v.SetDefault("agent.thresholds.auto_with_review", a.Thresholds.AutoWithReview)
	v.SetDefault("agent.thresholds.ask_human", a.Thresholds.AskHuman)
	v.SetDefault("agent.learn", a.Learn)
	v.SetDefault("agent.apply_fixes", a.ApplyFixes)

	v.SetDefault("batch.concurrency", batch.MaxConcurrency)
}

// Validate checks the settings a command needs. mode is "validate",
// "batch", "learn" or "cases".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "validate", "learn", "cases":
	case "batch":
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > batch.MaxConcurrency {
			errs = append(errs, fmt.Sprintf("batch.concurrency must be between 1 and %d", batch.MaxConcurrency))
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}

	if mode != "cases" {
		if err := c.Agent.Thresholds.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := confidence.ValidateWeights(c.Confidence.Weights); err != nil {
			errs = append(errs, err.Error())
		}
		if c.Agent.MaxSteps < 1 {
			errs = append(errs, "agent.max_steps must be > 0")
		}
		if c.Matcher.Threshold <= 0 || c.Matcher.Threshold > 1 {
			errs = append(errs, "matcher.threshold must be in (0, 1]")
		}
		if _, err := c.Validation.Rules(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
