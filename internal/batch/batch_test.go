package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/roster-validator/internal/agent"
	"github.com/sells-group/roster-validator/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner decides by file name and tracks peak concurrency.
type fakeRunner struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	onRun    func(name string)
}

func (f *fakeRunner) Run(ctx context.Context, in model.Input) (*agent.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.onRun != nil {
		f.onRun(in.Name)
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	typ := model.DecisionAutoComplete
	if len(in.Rows) == 0 {
		typ = model.DecisionReject
	}
	return &agent.Result{Name: in.Name, Decision: model.Decision{Type: typ}}, nil
}

func job(name string, rows int) Job {
	return Job{Name: name, Load: func(context.Context) (model.Input, error) {
		return model.Input{Name: name, Rows: make([]map[string]string, rows)}, nil
	}}
}

func TestNew_ClampsConcurrency(t *testing.T) {
	assert.Equal(t, 1, New(0).Concurrency())
	assert.Equal(t, 1, New(-3).Concurrency())
	assert.Equal(t, 4, New(4).Concurrency())
	assert.Equal(t, MaxConcurrency, New(50).Concurrency())
}

func TestRun_BoundsConcurrency(t *testing.T) {
	r := &fakeRunner{delay: 20 * time.Millisecond}
	var jobs []Job
	for i := 0; i < 30; i++ {
		jobs = append(jobs, job(fmt.Sprintf("f%02d.xlsx", i), 1))
	}
	results, sum, err := New(25).Run(context.Background(), r, jobs)
	require.NoError(t, err)
	require.Len(t, results, 30)
	assert.LessOrEqual(t, int(r.peak.Load()), MaxConcurrency)
	assert.Equal(t, 30, sum.Done)
	assert.Equal(t, 30, sum.ByDecision[model.DecisionAutoComplete])
	for i, res := range results {
		assert.Equal(t, jobs[i].Name, res.Name, "results keep job order")
		assert.Equal(t, StatusDone, res.Status)
	}
}

func TestRun_FailuresDoNotAbortBatch(t *testing.T) {
	r := &fakeRunner{}
	broken := Job{Name: "broken.xlsx", Load: func(context.Context) (model.Input, error) {
		return model.Input{}, errors.New("not a spreadsheet")
	}}
	results, sum, err := New(2).Run(context.Background(), r, []Job{job("a.xlsx", 1), broken, job("empty.xlsx", 0), {Name: "noloader"}})
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Files)
	assert.Equal(t, 2, sum.Done)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 1, sum.ByDecision[model.DecisionReject])
	assert.ErrorContains(t, results[1].Err, "not a spreadsheet")
	assert.Equal(t, StatusFailed, results[1].Status)
}

func TestRun_CancelStopsQueuedFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	r := &fakeRunner{delay: 50 * time.Millisecond, onRun: func(string) { once.Do(cancel) }}
	var jobs []Job
	for i := 0; i < 5; i++ {
		jobs = append(jobs, job(fmt.Sprintf("f%d", i), 1))
	}
	results, sum, err := New(1).Run(ctx, r, jobs)
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Canceled)
	for _, res := range results {
		assert.Equal(t, StatusCanceled, res.Status)
	}
}

func TestRun_DuplicateNames(t *testing.T) {
	_, _, err := New(2).Run(context.Background(), &fakeRunner{}, []Job{job("a", 1), job("a", 1)})
	assert.Error(t, err)

	_, _, err = New(2).Run(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestProgress(t *testing.T) {
	var mu sync.Mutex
	var events []Status
	p := New(1, WithProgress(func(pr Progress) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, pr.Status)
	}))
	r := &fakeRunner{onRun: func(name string) {
		p.OnStep(name, agent.Step{Index: 3, Tool: agent.ToolFormat})
	}}

	_, _, err := p.Run(context.Background(), r, []Job{job("a.xlsx", 1)})
	require.NoError(t, err)

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusDone, snap[0].Status)
	assert.Equal(t, 3, snap[0].Step)
	assert.Equal(t, agent.ToolFormat, snap[0].Tool)
	assert.Equal(t, model.DecisionAutoComplete, snap[0].Decision)
	assert.False(t, snap[0].Finished.Before(snap[0].Started))
	assert.Equal(t, []Status{StatusRunning, StatusRunning, StatusDone}, events)
}
