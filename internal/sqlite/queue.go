// This file implements the persistent rebuild queue.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// deleteBatchSize bounds the number of placeholders in one DELETE.
const deleteBatchSize = 500

// Enqueue persists rebuild requests. Requests without an ID get a UUID v7;
// requests without RequestedAt get the current time. Duplicate requests are
// kept; the scheduler merges them when it drains the queue.
func (b *Backend) Enqueue(ctx context.Context, reqs ...types.RebuildRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	if err := validateRequests(reqs); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrBackendDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := b.insertRequests(ctx, tx, reqs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rebuild requests: %w", err)
	}
	return nil
}

func validateRequests(reqs []types.RebuildRequest) error {
	for _, req := range reqs {
		if !types.ValidName(req.Collection) {
			return fmt.Errorf("%w: collection name %q", types.ErrInvalidDefinition, req.Collection)
		}
		if req.Ref != "" {
			if err := req.Ref.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertRequests writes reqs inside tx. The caller holds b.mu.
func (b *Backend) insertRequests(ctx context.Context, tx *sql.Tx, reqs []types.RebuildRequest) error {
	now := b.clock()
	for _, req := range reqs {
		id := req.ID
		if id == "" {
			newID, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("generating UUID v7: %w", err)
			}
			id = newID.String()
		}
		requestedAt := req.RequestedAt
		if requestedAt.IsZero() {
			requestedAt = now
		}
		var ref sql.NullString
		if req.Ref != "" {
			ref = sql.NullString{String: string(req.Ref), Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO rebuilds (id, collection, object_ref, changes_expected, requested_at) VALUES (?, ?, ?, ?, ?)",
			id, req.Collection, ref, req.ChangesExpected, formatTime(requestedAt))
		if err != nil {
			return fmt.Errorf("enqueueing rebuild of %s: %w", req.Collection, err)
		}
	}
	return nil
}

// PendingRequests returns every queued request in arrival order.
func (b *Backend) PendingRequests(ctx context.Context) ([]types.RebuildRequest, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBackendDetached
	}

	rows, err := b.db.QueryContext(ctx,
		"SELECT id, collection, object_ref, changes_expected, requested_at FROM rebuilds ORDER BY requested_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying rebuild queue: %w", err)
	}
	defer rows.Close()

	var out []types.RebuildRequest
	for rows.Next() {
		var (
			req         types.RebuildRequest
			ref         sql.NullString
			requestedAt string
		)
		if err := rows.Scan(&req.ID, &req.Collection, &ref, &req.ChangesExpected, &requestedAt); err != nil {
			return nil, fmt.Errorf("scanning rebuild request: %w", err)
		}
		if ref.Valid {
			req.Ref = types.Ref(ref.String)
		}
		if req.RequestedAt, err = parseTime(requestedAt); err != nil {
			return nil, fmt.Errorf("parsing requested_at of %s: %w", req.ID, err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rebuild queue: %w", err)
	}
	return out, nil
}

// DeleteRequests removes the given requests from the queue. Unknown IDs are
// ignored.
func (b *Backend) DeleteRequests(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrBackendDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		batch := ids[start:end]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ")
		if _, err := tx.ExecContext(ctx, "DELETE FROM rebuilds WHERE id IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("deleting rebuild requests: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rebuild queue delete: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending requests.
func (b *Backend) QueueDepth(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return 0, types.ErrBackendDetached
	}

	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rebuilds").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rebuild queue: %w", err)
	}
	return n, nil
}
