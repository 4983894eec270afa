package reporting

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// Stopper is a polled stop flag. Long loops call Check between units of
// work; a pending stop or a cancelled context aborts them with ErrStopped.
type Stopper struct {
	stopped atomic.Bool
}

// Stop requests that the current batch stop at the next check.
func (s *Stopper) Stop() {
	s.stopped.Store(true)
}

// Reset clears a pending stop.
func (s *Stopper) Reset() {
	s.stopped.Store(false)
}

// Stopped reports whether a stop is pending.
func (s *Stopper) Stopped() bool {
	return s.stopped.Load()
}

// Check returns ErrStopped if a stop is pending or ctx is done. A context
// error is wrapped as well, so callers can tell shutdown from a stop
// request.
func (s *Stopper) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStopped, err)
	}
	if s.Stopped() {
		return types.ErrStopped
	}
	return nil
}
