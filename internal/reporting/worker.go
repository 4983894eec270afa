package reporting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// DefaultRetryDelay is how long the worker waits after a failed batch.
const DefaultRetryDelay = 30 * time.Second

// Runner runs one batch, absorbing its failure.
type Runner interface {
	RunSafely(ctx context.Context) (Summary, error)
}

// Worker is the background loop around a Runner. It runs a batch on start,
// whenever it is woken, and after RetryDelay following a failure. Wake-ups
// that arrive during a batch collapse into one follow-up batch.
type Worker struct {
	runner     Runner
	retryDelay time.Duration
	logger     *slog.Logger
	wake       chan struct{}
}

// NewWorker creates a worker. A non-positive retryDelay uses
// DefaultRetryDelay.
func NewWorker(runner Runner, retryDelay time.Duration, logger *slog.Logger) *Worker {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		runner:     runner,
		retryDelay: retryDelay,
		logger:     logger,
		wake:       make(chan struct{}, 1),
	}
}

// Wake schedules a batch. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("rebuild worker started", slog.Duration("retry_delay", w.retryDelay))
	defer w.logger.Info("rebuild worker stopped")

	w.Wake()

	var retry *time.Timer
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		var retryC <-chan time.Time
		if retry != nil {
			retryC = retry.C
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.wake:
		case <-retryC:
		}
		if retry != nil {
			retry.Stop()
			retry = nil
		}

		_, err := w.runner.RunSafely(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, types.ErrStopped):
			// Stopped on request, not shut down: start over with the
			// current definitions.
			w.Wake()
		default:
			w.logger.Warn("retrying rebuild later", slog.Duration("after", w.retryDelay))
			retry = time.NewTimer(w.retryDelay)
		}
	}
}
