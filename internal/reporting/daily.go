package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// TimeOfDay is a wall-clock time in the local zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// DefaultCheckTime is when the daily consistency check runs by default.
var DefaultCheckTime = TimeOfDay{Hour: 3, Minute: 0}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String formats the time as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Next returns the first occurrence of t strictly after from, in from's
// location.
func (t TimeOfDay) Next(from time.Time) time.Time {
	y, m, d := from.Date()
	next := time.Date(y, m, d, t.Hour, t.Minute, 0, 0, from.Location())
	if !next.After(from) {
		next = time.Date(y, m, d+1, t.Hour, t.Minute, 0, 0, from.Location())
	}
	return next
}

// DailyCheck enqueues a consistency check of every collection once a day:
// a full rebuild flagged as not expecting changes, so that any row it
// rewrites raises an alert.
type DailyCheck struct {
	at       TimeOfDay
	registry *Registry
	queue    types.RebuildQueue
	wake     func()
	logger   *slog.Logger
	now      func() time.Time
}

// NewDailyCheck creates the daily trigger. wake may be nil.
func NewDailyCheck(at TimeOfDay, registry *Registry, queue types.RebuildQueue, wake func(), logger *slog.Logger) *DailyCheck {
	if logger == nil {
		logger = slog.Default()
	}
	return &DailyCheck{
		at:       at,
		registry: registry,
		queue:    queue,
		wake:     wake,
		logger:   logger,
		now:      time.Now,
	}
}

// Trigger enqueues the check immediately and returns the number of
// collections it covers.
func (d *DailyCheck) Trigger(ctx context.Context) (int, error) {
	colls := d.registry.Collections()
	if len(colls) == 0 {
		return 0, nil
	}
	reqs := make([]types.RebuildRequest, len(colls))
	for i, c := range colls {
		reqs[i] = types.FullRebuild(c.Name(), false)
	}
	if err := d.queue.Enqueue(ctx, reqs...); err != nil {
		return 0, fmt.Errorf("enqueueing consistency check: %w", err)
	}
	d.logger.Info("consistency check requested", slog.Int("collections", len(colls)))
	if d.wake != nil {
		d.wake()
	}
	return len(colls), nil
}

// Run triggers the check at the configured time every day until ctx is
// done. A failed trigger is logged and retried the next day.
func (d *DailyCheck) Run(ctx context.Context) error {
	for {
		now := d.now()
		next := d.at.Next(now)
		d.logger.Debug("next consistency check", slog.Time("at", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := d.Trigger(ctx); err != nil {
			d.logger.Error("consistency check not requested", slog.String("error", err.Error()))
		}
	}
}
