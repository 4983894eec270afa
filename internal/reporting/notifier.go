package reporting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// Compile-time interface check.
var _ types.ChangeObserver = (*Notifier)(nil)

// Notifier is the change hook: it turns object changes into per-object
// rebuild requests according to the registry's rule table, then wakes the
// worker.
type Notifier struct {
	registry *Registry
	queue    types.RebuildQueue
	logger   *slog.Logger
	wake     func()

	// planned is set when the store queues the requests with the change.
	planned bool
}

// planningStore is implemented by stores that queue planned requests in the
// transaction of the object change.
type planningStore interface {
	PlanRequests(planner types.RequestPlanner)
}

// NewNotifier creates a change hook enqueueing into queue. wake may be nil
// when no worker runs in-process; requests then wait for the next run.
func NewNotifier(registry *Registry, queue types.RebuildQueue, wake func(), logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{registry: registry, queue: queue, logger: logger, wake: wake}
}

// Register hooks n into store. When the store can plan requests, they are
// written with the object change and n only wakes the worker after commit;
// otherwise n enqueues them after commit.
func (n *Notifier) Register(store interface{ Observe(types.ChangeObserver) }) {
	if ps, ok := store.(planningStore); ok {
		ps.PlanRequests(n.plan)
		n.planned = true
	}
	store.Observe(n)
}

func (n *Notifier) plan(change types.Change) []types.RebuildRequest {
	reqs := n.registry.RequestsFor(change)
	if len(reqs) > 0 {
		n.logger.Debug("rebuilds requested",
			slog.String("ref", string(change.Ref)),
			slog.String("change", change.Kind),
			slog.Int("requests", len(reqs)))
	}
	return reqs
}

// ObjectChanged enqueues the rebuilds implied by change, unless the store
// already queued them, and wakes the worker.
func (n *Notifier) ObjectChanged(ctx context.Context, change types.Change) error {
	reqs := n.registry.RequestsFor(change)
	if len(reqs) == 0 {
		return nil
	}
	if n.planned {
		if n.wake != nil {
			n.wake()
		}
		return nil
	}
	if err := n.queue.Enqueue(ctx, reqs...); err != nil {
		return fmt.Errorf("enqueueing rebuilds for %s: %w", change.Ref, err)
	}
	n.logger.Debug("rebuilds requested",
		slog.String("ref", string(change.Ref)),
		slog.String("change", change.Kind),
		slog.Int("requests", len(reqs)))
	if n.wake != nil {
		n.wake()
	}
	return nil
}
