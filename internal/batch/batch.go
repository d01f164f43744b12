// Package batch validates many roster files concurrently with a bounded
// worker pool and per-file progress tracking.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/roster-validator/internal/agent"
	"github.com/sells-group/roster-validator/internal/model"
)

// MaxConcurrency caps the number of files validated at once.
const MaxConcurrency = 10

// Status is a file's position in the batch.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Runner validates one parsed file.
type Runner interface {
	Run(ctx context.Context, in model.Input) (*agent.Result, error)
}

// Job is one file to validate. Load runs on the worker so parsing is bounded
// by the pool too.
type Job struct {
	Name string
	Load func(ctx context.Context) (model.Input, error)
}

// Progress is a point-in-time view of one file.
type Progress struct {
	Name     string             `json:"name"`
	Status   Status             `json:"status"`
	Step     int                `json:"step,omitempty"`
	Tool     string             `json:"tool,omitempty"`
	Decision model.DecisionType `json:"decision,omitempty"`
	Error    string             `json:"error,omitempty"`
	Started  time.Time          `json:"started,omitempty"`
	Finished time.Time          `json:"finished,omitempty"`
}

// FileResult pairs a job with its outcome. Result is nil when Err is set.
type FileResult struct {
	Name   string
	Status Status
	Result *agent.Result
	Err    error
}

// Summary counts outcomes across the batch.
type Summary struct {
	Files      int                        `json:"files"`
	Done       int                        `json:"done"`
	Failed     int                        `json:"failed"`
	Canceled   int                        `json:"canceled"`
	ByDecision map[model.DecisionType]int `json:"by_decision"`
	Duration   time.Duration              `json:"duration_ns"`
}

// Pool runs jobs with at most Concurrency files in flight.
type Pool struct {
	concurrency int
	onProgress  func(Progress)

	mu       sync.Mutex
	progress map[string]*Progress
}

// Option configures a Pool.
type Option func(*Pool)

// WithProgress is called on every progress change. It runs on worker
// goroutines and must be safe for concurrent use.
func WithProgress(fn func(Progress)) Option {
	return func(p *Pool) { p.onProgress = fn }
}

// New creates a Pool; concurrency is clamped to [1, MaxConcurrency].
func New(concurrency int, opts ...Option) *Pool {
	concurrency = max(1, min(concurrency, MaxConcurrency))
	p := &Pool{concurrency: concurrency, progress: make(map[string]*Progress)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Concurrency returns the effective worker count.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// OnStep records the current step of a running file. Pass it to
// agent.WithStepHook.
func (p *Pool) OnStep(file string, s agent.Step) {
	p.update(file, func(pr *Progress) {
		pr.Step = s.Index
		pr.Tool = s.Tool
	})
}

// Snapshot returns the progress of every file, sorted by name.
func (p *Pool) Snapshot() []Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Progress, 0, len(p.progress))
	for _, pr := range p.progress {
		out = append(out, *pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (p *Pool) update(name string, fn func(*Progress)) {
	p.mu.Lock()
	pr, ok := p.progress[name]
	if !ok {
		p.mu.Unlock()
		return
	}
	fn(pr)
	snap := *pr
	p.mu.Unlock()
	if p.onProgress != nil {
		p.onProgress(snap)
	}
}

// Run validates every job. A failed file never aborts the batch. Once ctx is
// done no new file starts and the remaining ones are marked canceled; files
// already running finish their current run. Results are in job order.
func (p *Pool) Run(ctx context.Context, runner Runner, jobs []Job) ([]FileResult, *Summary, error) {
	if runner == nil {
		return nil, nil, eris.New("batch: nil runner")
	}
	seen := make(map[string]bool, len(jobs))
	p.mu.Lock()
	for _, j := range jobs {
		if seen[j.Name] {
			p.mu.Unlock()
			return nil, nil, eris.Errorf("batch: duplicate file %q", j.Name)
		}
		seen[j.Name] = true
		p.progress[j.Name] = &Progress{Name: j.Name, Status: StatusQueued}
	}
	p.mu.Unlock()

	start := time.Now()
	log := zap.L().With(zap.Int("files", len(jobs)), zap.Int("concurrency", p.concurrency))
	log.Info("batch: starting")

	results := make([]FileResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, job := range jobs {
		results[i].Name = job.Name
		if ctx.Err() != nil {
			p.cancel(&results[i], ctx.Err())
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				p.cancel(&results[i], ctx.Err())
				return nil
			}
			p.process(ctx, runner, job, &results[i])
			return nil
		})
	}
	_ = g.Wait()

	sum := summarize(results)
	sum.Duration = time.Since(start)
	log.Info("batch: complete",
		zap.Int("done", sum.Done),
		zap.Int("failed", sum.Failed),
		zap.Int("canceled", sum.Canceled),
		zap.Any("by_decision", sum.ByDecision),
		zap.Duration("duration", sum.Duration),
	)
	return results, sum, nil
}

func (p *Pool) process(ctx context.Context, runner Runner, job Job, out *FileResult) {
	log := zap.L().With(zap.String("file", job.Name))
	p.update(job.Name, func(pr *Progress) {
		pr.Status = StatusRunning
		pr.Started = time.Now()
	})

	res, err := p.runOne(ctx, runner, job)
	out.Result, out.Err = res, err
	if err != nil {
		log.Error("batch: file failed", zap.Error(err))
		out.Status = StatusFailed
		if ctx.Err() != nil {
			out.Status = StatusCanceled
		}
		p.update(job.Name, func(pr *Progress) {
			pr.Status = out.Status
			pr.Error = err.Error()
			pr.Finished = time.Now()
		})
		return
	}

	log.Info("batch: file complete", zap.String("decision", string(res.Decision.Type)))
	out.Status = StatusDone
	p.update(job.Name, func(pr *Progress) {
		pr.Status = StatusDone
		pr.Decision = res.Decision.Type
		pr.Finished = time.Now()
	})
}

func (p *Pool) runOne(ctx context.Context, runner Runner, job Job) (*agent.Result, error) {
	if job.Load == nil {
		return nil, eris.Errorf("batch: job %q has no loader", job.Name)
	}
	in, err := job.Load(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: load %s", job.Name)
	}
	in.Name = job.Name
	res, err := runner.Run(ctx, in)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: validate %s", job.Name)
	}
	return res, nil
}

func (p *Pool) cancel(out *FileResult, err error) {
	out.Status = StatusCanceled
	out.Err = eris.Wrap(err, "batch: not started")
	p.update(out.Name, func(pr *Progress) {
		pr.Status = StatusCanceled
		pr.Error = out.Err.Error()
	})
}

func summarize(results []FileResult) *Summary {
	sum := &Summary{Files: len(results), ByDecision: make(map[model.DecisionType]int)}
	for _, r := range results {
		switch r.Status {
		case StatusDone:
			sum.Done++
			sum.ByDecision[r.Result.Decision.Type]++
		case StatusCanceled:
			sum.Canceled++
		default:
			sum.Failed++
		}
	}
	return sum
}
