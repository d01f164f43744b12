package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/roster-validator/internal/agent"
	"github.com/sells-group/roster-validator/internal/batch"
	"github.com/sells-group/roster-validator/internal/loader"
	"github.com/sells-group/roster-validator/internal/metrics"
	"github.com/sells-group/roster-validator/internal/model"
)

var (
	batchConcurrency int
	batchMetricsAddr string
	batchRecordType  string
)

var batchCmd = &cobra.Command{
	Use:   "batch <files...>",
	Short: "Validate many roster files concurrently",
	Long:  "Validates CSV and XLSX rosters (and ZIP bundles of them) with at most 10 files in flight. Prints one JSON line per file, then a summary line.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("concurrency") {
			cfg.Batch.Concurrency = batchConcurrency
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.Batch.MetricsAddr = batchMetricsAddr
		}
		rt, err := recordType(batchRecordType)
		if err != nil {
			return err
		}

		m := metrics.New()
		pool := batch.New(cfg.Batch.Concurrency, batch.WithProgress(m.File))
		env, err := initEnv(ctx, "batch", agent.WithRecorder(m), agent.WithStepHook(pool.OnStep))
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Batch.MetricsAddr != "" {
			shutdown := serveStatus(cfg.Batch.MetricsAddr, statusRouter(m.Handler(), pool))
			defer shutdown()
		}

		tmp, err := os.MkdirTemp("", "roster-batch-")
		if err != nil {
			return eris.Wrap(err, "create temp dir")
		}
		defer os.RemoveAll(tmp) //nolint:errcheck

		jobs, err := expandJobs(ctx, args, env.LoaderOptions(rt, ""), tmp)
		if err != nil {
			return err
		}
		return runBatch(ctx, pool, env.Agent, jobs, cmd.OutOrStdout())
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", batch.MaxConcurrency, "files validated at once (1-10)")
	batchCmd.Flags().StringVar(&batchMetricsAddr, "metrics-addr", "", "serve /metrics and /progress on this address while the batch runs, e.g. :9102")
	batchCmd.Flags().StringVar(&batchRecordType, "record-type", "", "record type for files whose sheet name does not name one")
	rootCmd.AddCommand(batchCmd)
}

// fileLine is the JSON line printed per file.
type fileLine struct {
	File       string             `json:"file"`
	Status     batch.Status       `json:"status"`
	Decision   model.DecisionType `json:"decision,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Questions  int                `json:"questions,omitempty"`
	Steps      int                `json:"steps,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// runBatch validates every job and writes one JSON line per file followed by
// the summary. Individual failures never fail the command.
func runBatch(ctx context.Context, pool *batch.Pool, runner batch.Runner, jobs []batch.Job, w io.Writer) error {
	if len(jobs) == 0 {
		zap.L().Info("no roster files found")
		return nil
	}
	start := time.Now()
	results, sum, err := pool.Run(ctx, runner, jobs)
	if err != nil {
		return eris.Wrap(err, "batch processing")
	}

	enc := json.NewEncoder(w)
	for _, r := range results {
		line := fileLine{File: r.Name, Status: r.Status}
		if r.Err != nil {
			line.Error = r.Err.Error()
		}
		if r.Result != nil {
			line.Decision = r.Result.Decision.Type
			line.Confidence = r.Result.Decision.Confidence.Overall
			line.Reason = r.Result.Decision.Reason
			line.Questions = len(r.Result.Questions)
			line.Steps = len(r.Result.Steps)
		}
		if err := enc.Encode(line); err != nil {
			return eris.Wrap(err, "write result line")
		}
	}
	if err := enc.Encode(sum); err != nil {
		return eris.Wrap(err, "write summary")
	}
	zap.L().Info("batch finished", zap.Int("files", sum.Files), elapsed(start))
	return nil
}

// expandJobs turns paths into jobs. ZIP bundles are extracted into tmp and
// workbooks with several roster sheets become one job per sheet.
func expandJobs(ctx context.Context, paths []string, opts loader.Options, tmp string) ([]batch.Job, error) {
	var files []string
	for i, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ".zip") {
			dest := filepath.Join(tmp, strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))+"-"+strconv.Itoa(i))
			extracted, err := loader.ExtractRosters(p, dest)
			if err != nil {
				return nil, eris.Wrapf(err, "extract %s", p)
			}
			files = append(files, extracted...)
			continue
		}
		files = append(files, p)
	}

	var jobs []batch.Job
	seen := make(map[string]int)
	add := func(j batch.Job) {
		seen[j.Name]++
		if n := seen[j.Name]; n > 1 {
			j.Name += " (" + strconv.Itoa(n) + ")"
		}
		jobs = append(jobs, j)
	}
	for _, f := range files {
		if !loader.Supported(f) {
			zap.L().Warn("skipping unsupported file", zap.String("file", f))
			continue
		}
		if !strings.EqualFold(filepath.Ext(f), ".xlsx") {
			add(fileJob(f, opts))
			continue
		}
		ins, err := loader.Load(ctx, f, opts)
		if err != nil {
			// Let the pool report the broken file alongside the others.
			add(fileJob(f, opts))
			continue
		}
		for _, in := range ins {
			add(batch.Job{Name: in.Name, Load: func(context.Context) (model.Input, error) {
				return in, nil
			}})
		}
	}
	return jobs, nil
}

func fileJob(path string, opts loader.Options) batch.Job {
	return batch.Job{Name: filepath.Base(path), Load: func(ctx context.Context) (model.Input, error) {
		return loader.LoadOne(ctx, path, opts)
	}}
}

// statusRouter serves Prometheus metrics and live per-file progress.
func statusRouter(metricsHandler http.Handler, pool *batch.Pool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Handle("/metrics", metricsHandler)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	r.Get("/progress", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(pool.Snapshot()); err != nil {
			zap.L().Warn("encode progress", zap.Error(err))
		}
	})
	return r
}

// serveStatus runs h on addr until the returned shutdown is called.
func serveStatus(addr string, h http.Handler) func() {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("status server failed", zap.Error(err))
		}
	}()
	zap.L().Info("status server listening", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
