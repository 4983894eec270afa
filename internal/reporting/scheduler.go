package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// CollectionStats counts the row mutations of one collection in a batch.
type CollectionStats struct {
	FullRebuild     bool `json:"full_rebuild"`
	ChangesExpected bool `json:"changes_expected"`
	Objects         int  `json:"objects"`
	RowsWritten     int  `json:"rows_written"`
	RowsClosed      int  `json:"rows_closed"`
	Unchanged       int  `json:"unchanged"`
}

// Mutations returns the number of rows written or closed.
func (s *CollectionStats) Mutations() int {
	return s.RowsWritten + s.RowsClosed
}

// Summary describes one scheduler batch.
type Summary struct {
	Requests       int                         `json:"requests"`
	FullRebuilds   int                         `json:"full_rebuilds"`
	ObjectRebuilds int                         `json:"object_rebuilds"`
	Skipped        int                         `json:"skipped"`
	Alerts         int                         `json:"alerts"`
	Collections    map[string]*CollectionStats `json:"collections,omitempty"`
	Duration       time.Duration               `json:"duration"`
}

// Mutations returns the number of row mutations across collections.
func (s Summary) Mutations() int {
	n := 0
	for _, c := range s.Collections {
		n += c.Mutations()
	}
	return n
}

func (s *Summary) stats(collection string) *CollectionStats {
	if s.Collections == nil {
		s.Collections = make(map[string]*CollectionStats)
	}
	st, ok := s.Collections[collection]
	if !ok {
		st = &CollectionStats{}
		s.Collections[collection] = st
	}
	return st
}

// batch is a drained queue split into work items.
type batch struct {
	ids     []string
	full    []types.RebuildRequest
	objects []types.RebuildRequest
	skipped int
}

// Scheduler drains the rebuild queue. Only one batch runs at a time per
// Scheduler.
type Scheduler struct {
	store    Store
	registry *Registry
	health   HealthReporter
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	stopper    Stopper
	reportOnce sync.Once
}

// NewScheduler creates a scheduler over store for the collections in
// registry. A nil health reporter logs alerts through logger.
func NewScheduler(store Store, registry *Registry, health HealthReporter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = NewLogReporter(logger)
	}
	return &Scheduler{
		store:    store,
		registry: registry,
		health:   health,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source used to stamp fact rows.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Stop asks a running batch to abort at its next check. The batch returns
// ErrStopped and leaves the queue untouched.
func (s *Scheduler) Stop() {
	s.stopper.Stop()
}

// Reconfigure stops a running batch, waits for it to return and runs fn
// while no batch can start. Schema and definition changes go through it, so
// a batch never sees a fact table change under it. The stopped batch leaves
// its requests queued.
func (s *Scheduler) Reconfigure(fn func() error) error {
	s.stopper.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopper.Reset()
	return fn()
}

// Run drains the queue once. Full rebuilds run first, then per-object
// rebuilds not covered by a full rebuild of the same collection. The drained
// requests are deleted only when the whole batch succeeds; on error, or when
// stopped, the queue is left as it was and the next run starts over.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	summary, err := s.run(ctx)
	summary.Duration = time.Since(started)
	if errors.Is(err, types.ErrStopped) {
		s.stopper.Reset()
	}
	return summary, err
}

func (s *Scheduler) run(ctx context.Context) (Summary, error) {
	var summary Summary
	if err := s.stopper.Check(ctx); err != nil {
		return summary, err
	}

	pending, err := s.store.PendingRequests(ctx)
	if err != nil {
		return summary, fmt.Errorf("draining rebuild queue: %w", err)
	}
	if len(pending) == 0 {
		return summary, nil
	}
	summary.Requests = len(pending)

	b := s.plan(pending)
	summary.Skipped = b.skipped
	now := s.now().UTC()

	for _, req := range b.full {
		coll, ok := s.registry.Collection(req.Collection)
		if !ok {
			summary.Skipped++
			continue
		}
		st := summary.stats(req.Collection)
		st.FullRebuild = true
		st.ChangesExpected = req.ChangesExpected
		if err := s.rebuildCollection(ctx, coll, now, st); err != nil {
			return summary, err
		}
		summary.FullRebuilds++

		if !req.ChangesExpected && st.Mutations() > 0 {
			summary.Alerts++
			msg := fmt.Sprintf("consistency check of %s rewrote %d rows", req.Collection, st.Mutations())
			s.logger.Warn("unexpected fact changes",
				slog.String("collection", req.Collection),
				slog.Int("rows_written", st.RowsWritten),
				slog.Int("rows_closed", st.RowsClosed))
			s.health.Report(ctx, Alert{
				Kind:       AlertUnexpectedChanges,
				Collection: req.Collection,
				Mutations:  st.Mutations(),
				Message:    msg,
				Time:       now,
			})
		}
	}

	for _, req := range b.objects {
		if err := s.stopper.Check(ctx); err != nil {
			return summary, err
		}
		coll, ok := s.registry.Collection(req.Collection)
		if !ok {
			summary.Skipped++
			continue
		}
		if err := s.rebuildObject(ctx, coll, req.Ref, now, summary.stats(req.Collection)); err != nil {
			return summary, err
		}
		summary.ObjectRebuilds++
	}

	if err := s.store.DeleteRequests(ctx, b.ids); err != nil {
		return summary, fmt.Errorf("clearing rebuild queue: %w", err)
	}
	return summary, nil
}

// plan partitions pending requests. Full rebuilds of one collection merge
// into one whose ChangesExpected is the OR of theirs. Per-object requests
// covered by a full rebuild, or repeated, are dropped. Requests for unknown
// collections are logged and dropped; they are still removed from the queue.
func (s *Scheduler) plan(pending []types.RebuildRequest) batch {
	var b batch
	fullIndex := make(map[string]int)
	for _, req := range pending {
		b.ids = append(b.ids, req.ID)
		if _, ok := s.registry.Collection(req.Collection); !ok {
			s.logger.Warn("dropping rebuild request for unknown collection",
				slog.String("collection", req.Collection),
				slog.String("ref", string(req.Ref)))
			b.skipped++
			continue
		}
		if !req.IsFull() {
			continue
		}
		if i, ok := fullIndex[req.Collection]; ok {
			b.full[i].ChangesExpected = b.full[i].ChangesExpected || req.ChangesExpected
			continue
		}
		fullIndex[req.Collection] = len(b.full)
		b.full = append(b.full, req)
	}

	type key struct {
		collection string
		ref        types.Ref
	}
	seen := make(map[key]bool)
	for _, req := range pending {
		if req.IsFull() {
			continue
		}
		if _, ok := s.registry.Collection(req.Collection); !ok {
			continue
		}
		if _, covered := fullIndex[req.Collection]; covered {
			continue
		}
		k := key{req.Collection, req.Ref}
		if seen[k] {
			continue
		}
		seen[k] = true
		b.objects = append(b.objects, req)
	}
	return b
}

// rebuildCollection diffs the collection's object set against its open
// rows: present objects are recomputed, rows of vanished objects closed.
func (s *Scheduler) rebuildCollection(ctx context.Context, coll types.Collection, now time.Time, st *CollectionStats) error {
	name := coll.Name()
	objs, err := coll.Find(ctx, s.store)
	if err != nil {
		return fmt.Errorf("finding objects of %s: %w", name, err)
	}
	open, err := s.store.OpenRows(ctx, name)
	if err != nil {
		return fmt.Errorf("reading open rows of %s: %w", name, err)
	}

	present := make(map[types.Ref]bool, len(objs))
	for _, obj := range objs {
		if err := s.stopper.Check(ctx); err != nil {
			return err
		}
		present[obj.Ref] = true
		if err := s.updateObject(ctx, coll, obj, open[obj.Ref], now, st); err != nil {
			return err
		}
	}

	var vanished []types.Ref
	for ref := range open {
		if !present[ref] {
			vanished = append(vanished, ref)
		}
	}
	slices.Sort(vanished)
	for _, ref := range vanished {
		if err := s.stopper.Check(ctx); err != nil {
			return err
		}
		if err := s.closeRow(ctx, name, open[ref], now, st); err != nil {
			return err
		}
	}

	s.logger.Debug("rebuilt collection",
		slog.String("collection", name),
		slog.Int("objects", len(objs)),
		slog.Int("rows_written", st.RowsWritten),
		slog.Int("rows_closed", st.RowsClosed))
	return nil
}

// rebuildObject recomputes one object. An object that no longer exists or
// no longer belongs to the collection has its open row closed.
func (s *Scheduler) rebuildObject(ctx context.Context, coll types.Collection, ref types.Ref, now time.Time, st *CollectionStats) error {
	name := coll.Name()
	obj, err := s.store.GetObject(ctx, ref)
	if errors.Is(err, types.ErrObjectNotFound) {
		obj = nil
	} else if err != nil {
		return fmt.Errorf("loading %s for %s: %w", ref, name, err)
	}

	open, err := s.store.OpenRow(ctx, name, ref)
	if err != nil {
		return fmt.Errorf("reading open row of %s in %s: %w", ref, name, err)
	}

	included := false
	if obj != nil {
		if included, err = coll.Includes(obj); err != nil {
			return fmt.Errorf("matching %s against %s: %w", ref, name, err)
		}
	}
	if !included {
		if open == nil {
			return nil
		}
		return s.closeRow(ctx, name, open, now, st)
	}
	return s.updateObject(ctx, coll, obj, open, now, st)
}

// updateObject computes the facts of obj and replaces its open row when
// they differ.
func (s *Scheduler) updateObject(ctx context.Context, coll types.Collection, obj *types.Object, open *types.FactRow, now time.Time, st *CollectionStats) error {
	name := coll.Name()
	st.Objects++

	facts, err := coll.Compute(ctx, obj)
	if err != nil {
		return fmt.Errorf("computing facts of %s in %s: %w", obj.Ref, name, err)
	}
	if open != nil && types.FactsEqual(coll.Facts(), open.Facts, facts) {
		st.Unchanged++
		return nil
	}

	row := &types.FactRow{Ref: obj.Ref, ValidFrom: now, Facts: facts}
	previous := ""
	if open != nil {
		previous = open.RowID
	}
	if err := s.store.ReplaceRow(ctx, name, previous, row); err != nil {
		return fmt.Errorf("writing row of %s in %s: %w", obj.Ref, name, err)
	}
	st.RowsWritten++
	s.logger.Debug("fact row written",
		slog.String("collection", name),
		slog.String("ref", string(obj.Ref)),
		slog.String("row_id", row.RowID),
		slog.Bool("replaced", open != nil))
	return nil
}

func (s *Scheduler) closeRow(ctx context.Context, collection string, row *types.FactRow, now time.Time, st *CollectionStats) error {
	if err := s.store.CloseRow(ctx, collection, row.RowID, now); err != nil {
		return fmt.Errorf("closing row of %s in %s: %w", row.Ref, collection, err)
	}
	st.RowsClosed++
	s.logger.Debug("fact row closed",
		slog.String("collection", collection),
		slog.String("ref", string(row.Ref)),
		slog.String("row_id", row.RowID))
	return nil
}

// RunSafely runs one batch and absorbs its failure: a stop is logged, any
// other error or panic is logged and reported as a health alert once per
// Scheduler. The error is still returned so callers can schedule a retry.
func (s *Scheduler) RunSafely(ctx context.Context) (summary Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rebuild panicked: %v", r)
			s.fail(ctx, err)
		}
	}()

	summary, err = s.Run(ctx)
	switch {
	case err == nil:
		if summary.Requests > 0 {
			s.logger.Info("rebuild batch done",
				slog.Int("requests", summary.Requests),
				slog.Int("full_rebuilds", summary.FullRebuilds),
				slog.Int("object_rebuilds", summary.ObjectRebuilds),
				slog.Int("mutations", summary.Mutations()),
				slog.Duration("duration", summary.Duration))
		}
	case errors.Is(err, types.ErrStopped):
		s.logger.Info("rebuild batch stopped", slog.String("reason", err.Error()))
	default:
		s.fail(ctx, err)
	}
	return summary, err
}

func (s *Scheduler) fail(ctx context.Context, err error) {
	s.logger.Error("rebuild batch failed", slog.String("error", err.Error()))
	s.reportOnce.Do(func() {
		s.health.Report(ctx, Alert{
			Kind:    AlertRebuildFailed,
			Message: err.Error(),
			Time:    time.Now().UTC(),
		})
	})
}
