package reporting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// scriptedRunner returns the queued results in order, then nil, and reports
// each call on calls.
type scriptedRunner struct {
	mu      sync.Mutex
	results []error
	calls   chan struct{}
}

func newScriptedRunner(results ...error) *scriptedRunner {
	return &scriptedRunner{results: results, calls: make(chan struct{}, 16)}
}

func (r *scriptedRunner) RunSafely(context.Context) (Summary, error) {
	r.mu.Lock()
	var err error
	if len(r.results) > 0 {
		err, r.results = r.results[0], r.results[1:]
	}
	r.mu.Unlock()
	r.calls <- struct{}{}
	return Summary{}, err
}

func waitCall(t *testing.T, r *scriptedRunner, within time.Duration) {
	t.Helper()
	select {
	case <-r.calls:
	case <-time.After(within):
		t.Fatal("runner was not called")
	}
}

func startWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return cancel
}

func TestWorker_RunsOnStartAndWake(t *testing.T) {
	runner := newScriptedRunner()
	w := NewWorker(runner, time.Hour, discardLogger())
	startWorker(t, w)

	waitCall(t, runner, 5*time.Second)

	w.Wake()
	waitCall(t, runner, 5*time.Second)
}

func TestWorker_WakeNeverBlocks(t *testing.T) {
	w := NewWorker(newScriptedRunner(), time.Hour, discardLogger())
	for range 10 {
		w.Wake()
	}
	assert.Len(t, w.wake, 1)
}

func TestWorker_RetriesAfterFailure(t *testing.T) {
	runner := newScriptedRunner(errors.New("database locked"))
	w := NewWorker(runner, 50*time.Millisecond, discardLogger())
	startWorker(t, w)

	waitCall(t, runner, 5*time.Second)
	// No wake-up: the retry timer triggers the next batch.
	waitCall(t, runner, 5*time.Second)
}

func TestWorker_RestartsAfterStop(t *testing.T) {
	runner := newScriptedRunner(types.ErrStopped)
	w := NewWorker(runner, time.Hour, discardLogger())
	startWorker(t, w)

	waitCall(t, runner, 5*time.Second)
	waitCall(t, runner, time.Second)
}

func TestWorker_DrainsRealQueue(t *testing.T) {
	h := newHarness(t)
	w := NewWorker(h.sched, time.Hour, discardLogger())
	h.store.Observe(types.ChangeObserverFunc(func(context.Context, types.Change) error {
		w.Wake()
		return nil
	}))
	h.install(taskDefinitions)

	startWorker(t, w)
	h.put("task-1", "task", map[string]any{"title": "A"})

	require.Eventually(t, func() bool {
		return h.queueDepth() == 0 && h.openRow("open_tasks", "task-1") != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewWorkerDefaults(t *testing.T) {
	w := NewWorker(newScriptedRunner(), 0, nil)
	assert.Equal(t, DefaultRetryDelay, w.retryDelay)
	assert.NotNil(t, w.logger)
}
