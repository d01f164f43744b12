// Package classifier is the AI-assisted tier of header matching: it asks a
// language model to map raw headers onto the standard field catalog.
package classifier

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/roster-validator/internal/cost"
	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/resilience"
	"github.com/sells-group/roster-validator/pkg/anthropic"
)

// Suggestion is one AI-proposed header → field mapping. Field is empty when
// the model found no fit.
type Suggestion struct {
	Header     string
	Field      string
	Confidence float64
}

// Classifier proposes header mappings for a set of columns.
type Classifier interface {
	Classify(ctx context.Context, rt model.RecordType, columns []model.SourceColumn, catalog []model.CanonicalField) ([]Suggestion, error)
}

// Config tunes the AI classifier.
type Config struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxTokens   int64         `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerSec  float64       `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	Burst       int           `mapstructure:"burst" yaml:"burst"`
	MaxSamples  int           `mapstructure:"max_samples" yaml:"max_samples"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`

	Backoff resilience.Backoff       `mapstructure:"backoff" yaml:"backoff"`
	Breaker resilience.BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
	// Pricing overrides the per-model rates used to log spend.
	Pricing cost.Rates `mapstructure:"pricing" yaml:"pricing"`
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "claude-haiku-4-5-20251001"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	return c
}

// AI implements Classifier over the Anthropic Messages API with a timeout,
// an adaptive rate limiter, retries on transient failures and a circuit
// breaker.
type AI struct {
	client  anthropic.Client
	cfg     Config
	limiter *adaptiveLimiter
	breaker *resilience.Breaker
	calc    *cost.Calculator

	mu    sync.Mutex
	calls int
	spent float64
}

// New creates an AI classifier.
func New(client anthropic.Client, cfg Config) *AI {
	cfg = cfg.withDefaults()
	bc := cfg.Breaker
	if bc.Counts == nil {
		bc.Counts = resilience.IsTransient
	}
	return &AI{
		client:  client,
		cfg:     cfg,
		limiter: newAdaptiveLimiter(cfg.RatePerSec, cfg.Burst),
		breaker: resilience.NewBreaker(bc),
		calc:    cost.NewCalculator(cfg.Pricing),
	}
}

type reply struct {
	Mappings []struct {
		Header     string   `json:"customer_header"`
		Field      *string  `json:"standard_field"`
		Confidence *float64 `json:"confidence"`
	} `json:"mappings"`
}

// Classify asks the model for mappings. Suggestions naming an unknown header
// or field are dropped. Errors are tagged capability_unavailable.
func (a *AI) Classify(ctx context.Context, rt model.RecordType, columns []model.SourceColumn, catalog []model.CanonicalField) ([]Suggestion, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System: []anthropic.SystemBlock{
			{Text: systemPrompt},
			{Text: buildCatalogBlock(rt, catalog), Cache: true},
		},
		Messages:    []anthropic.Message{{Role: "user", Content: buildUserPrompt(columns, a.cfg.MaxSamples)}},
		Temperature: &temp,
	}

	policy := resilience.Policy{
		Attempts: a.cfg.MaxAttempts,
		Backoff:  a.cfg.Backoff,
		OnRetry:  resilience.RetryLogger("classifier.classify"),
	}
	resp, err := resilience.Retry(ctx, policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.Call(ctx, a.breaker, a.call(req))
	})
	if err != nil {
		return nil, model.NewError(model.KindCapabilityUnavailable, eris.Wrap(err, "classifier: classify"))
	}
	resp.Usage.Log(a.cfg.Model, "classify")
	a.charge(resp.Usage)

	suggestions, err := parseReply(resp.Text(), columns, catalog)
	if err != nil {
		return nil, model.NewError(model.KindCapabilityUnavailable, err)
	}
	return suggestions, nil
}

// Spent returns the number of completed calls and their estimated cost in USD.
func (a *AI) Spent() (int, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls, a.spent
}

func (a *AI) charge(u anthropic.TokenUsage) {
	usd := a.calc.Claude(a.cfg.Model, u)
	a.mu.Lock()
	a.calls++
	a.spent += usd
	a.mu.Unlock()
	zap.L().Debug("classifier: call cost", zap.String("model", a.cfg.Model), zap.Float64("usd", usd))
}

func (a *AI) call(req anthropic.MessageRequest) func(ctx context.Context) (*anthropic.MessageResponse, error) {
	return func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "classifier: wait for rate limiter")
		}
		resp, err := a.client.CreateMessage(ctx, req)
		if err != nil {
			status := anthropic.StatusCode(err)
			if status == 429 {
				a.limiter.onRateLimit()
			}
			if resilience.IsTransientHTTPStatus(status) {
				return nil, resilience.NewTransientError(err, status)
			}
			return nil, err
		}
		a.limiter.onSuccess()
		return resp, nil
	}
}

func parseReply(text string, columns []model.SourceColumn, catalog []model.CanonicalField) ([]Suggestion, error) {
	var r reply
	if err := json.Unmarshal([]byte(cleanJSON(text)), &r); err != nil {
		return nil, eris.Wrap(err, "classifier: parse reply")
	}

	headers := make(map[string]bool, len(columns))
	for _, c := range columns {
		headers[c.Header] = true
	}
	fields := make(map[string]bool, len(catalog))
	for _, f := range catalog {
		fields[f.Name] = true
	}

	out := make([]Suggestion, 0, len(r.Mappings))
	for _, m := range r.Mappings {
		if !headers[m.Header] {
			zap.L().Debug("classifier: dropping suggestion for unknown header", zap.String("header", m.Header))
			continue
		}
		s := Suggestion{Header: m.Header}
		if m.Field != nil && fields[*m.Field] {
			s.Field = *m.Field
			s.Confidence = 0.8
			if m.Confidence != nil {
				s.Confidence = min(max(*m.Confidence, 0), 1)
			}
		}
		out = append(out, s)
	}
	return out, nil
}
