package reporting

import (
	"context"
	"log/slog"
	"time"
)

// AlertKind classifies health alerts.
type AlertKind string

// Alert kinds.
const (
	// AlertUnexpectedChanges is raised when a consistency check rewrote
	// rows, meaning some change reached the data without a rebuild request.
	AlertUnexpectedChanges AlertKind = "unexpected_changes"

	// AlertRebuildFailed is raised the first time a batch fails.
	AlertRebuildFailed AlertKind = "rebuild_failed"
)

// Alert is a health signal for operators.
type Alert struct {
	Kind       AlertKind `json:"kind"`
	Collection string    `json:"collection,omitempty"`
	Mutations  int       `json:"mutations,omitempty"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}

// HealthReporter delivers alerts. Report must not block for long; the
// scheduler calls it inline.
type HealthReporter interface {
	Report(ctx context.Context, alert Alert)
}

// HealthReporterFunc adapts a function to HealthReporter.
type HealthReporterFunc func(ctx context.Context, alert Alert)

// Report calls f(ctx, alert).
func (f HealthReporterFunc) Report(ctx context.Context, alert Alert) {
	f(ctx, alert)
}

// LogReporter reports alerts as error-level log records.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a reporter writing to logger.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// Report logs the alert.
func (r *LogReporter) Report(ctx context.Context, alert Alert) {
	r.logger.LogAttrs(ctx, slog.LevelError, "health alert",
		slog.String("kind", string(alert.Kind)),
		slog.String("collection", alert.Collection),
		slog.Int("mutations", alert.Mutations),
		slog.String("message", alert.Message),
		slog.Time("time", alert.Time),
	)
}
