// Package metrics exposes Prometheus instruments for validation runs and
// batches.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/roster-validator/internal/agent"
	"github.com/sells-group/roster-validator/internal/batch"
)

const namespace = "roster"

// Metrics records agent steps, retries, decisions and batch file outcomes.
// It satisfies agent.Recorder; File is meant for batch.WithProgress.
type Metrics struct {
	reg *prometheus.Registry

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	runSteps     prometheus.Histogram
	confidence   prometheus.Histogram
	mappings     *prometheus.CounterVec
	files        *prometheus.CounterVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_steps_total",
			Help:      "Tool calls executed by the agent.",
		}, []string{"tool", "success"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_step_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"tool"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_retries_total",
			Help:      "Recovery actions taken from the retry chain.",
		}, []string{"rule", "action"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Final decisions by type.",
		}, []string{"decision"}),
		runSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_steps",
			Help:      "Steps used per run.",
			Buckets:   prometheus.LinearBuckets(1, 1, agent.DefaultConfig().MaxSteps),
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "overall_confidence",
			Help:      "Overall confidence per run.",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}),
		mappings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "header_mappings_total",
			Help:      "Mapped columns by matcher tier.",
		}, []string{"method"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_files_total",
			Help:      "Batch files reaching a final status.",
		}, []string{"status"}),
	}
	m.reg.MustRegister(
		m.steps, m.stepDuration, m.retries, m.decisions,
		m.runSteps, m.confidence, m.mappings, m.files,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Step(tool string, success bool, d time.Duration) {
	m.steps.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
	m.stepDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) Retry(rule, action string) {
	m.retries.WithLabelValues(rule, action).Inc()
}

func (m *Metrics) Finish(res *agent.Result) {
	m.decisions.WithLabelValues(string(res.Decision.Type)).Inc()
	m.runSteps.Observe(float64(len(res.Steps)))
	if res.Decision.Type != "" {
		m.confidence.Observe(res.Decision.Confidence.Overall)
	}
	for _, mp := range res.Mappings {
		if mp.Mapped() {
			m.mappings.WithLabelValues(string(mp.Method)).Inc()
		}
	}
}

// File counts a batch file once it leaves the running state.
func (m *Metrics) File(p batch.Progress) {
	switch p.Status {
	case batch.StatusDone, batch.StatusFailed, batch.StatusCanceled:
		m.files.WithLabelValues(string(p.Status)).Inc()
	}
}
