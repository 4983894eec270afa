// This file implements the object store: source objects keyed by reference.
// Planned rebuild requests are queued in the mutation's transaction and
// observers are notified after it commits.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// PutObject creates or replaces an object. UpdatedAt is set to the current
// time. The planner's requests are queued with the write; observers receive
// a create or update change after commit.
func (b *Backend) PutObject(ctx context.Context, obj *types.Object) error {
	if obj == nil {
		return types.ErrInvalidObject
	}
	if err := obj.Ref.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(obj.Type) == "" {
		return fmt.Errorf("%w: object %s has no type", types.ErrInvalidObject, obj.Ref)
	}

	change, err := b.putObject(ctx, obj)
	if err != nil {
		return err
	}
	return b.notify(ctx, change)
}

func (b *Backend) putObject(ctx context.Context, obj *types.Object) (types.Change, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.Change{}, types.ErrBackendDetached
	}

	attrs := obj.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return types.Change{}, fmt.Errorf("%w: encoding attributes: %v", types.ErrInvalidObject, err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Change{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	previous, err := hydrateObject(tx.QueryRowContext(ctx,
		"SELECT ref, type, attributes, updated_at FROM objects WHERE ref = ?", string(obj.Ref)))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return types.Change{}, fmt.Errorf("reading object %s: %w", obj.Ref, err)
	}

	obj.UpdatedAt = b.clock()
	_, err = tx.ExecContext(ctx, `INSERT INTO objects (ref, type, attributes, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET type = excluded.type, attributes = excluded.attributes, updated_at = excluded.updated_at`,
		string(obj.Ref), obj.Type, string(data), formatTime(obj.UpdatedAt))
	if err != nil {
		return types.Change{}, fmt.Errorf("persisting object %s: %w", obj.Ref, err)
	}

	// Observers get their own copy, decoded the same way readers see it.
	current, err := decodeObject(obj.Ref, obj.Type, data, obj.UpdatedAt)
	if err != nil {
		return types.Change{}, err
	}
	change := types.Change{Kind: types.ChangeCreate, Ref: obj.Ref, Object: current}
	if previous != nil {
		change.Kind = types.ChangeUpdate
		change.Previous = previous
	}
	if err := b.queuePlanned(ctx, tx, change); err != nil {
		return types.Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Change{}, fmt.Errorf("committing object %s: %w", obj.Ref, err)
	}
	return change, nil
}

// GetObject returns the object with the given reference.
func (b *Backend) GetObject(ctx context.Context, ref types.Ref) (*types.Object, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBackendDetached
	}

	obj, err := hydrateObject(b.db.QueryRowContext(ctx,
		"SELECT ref, type, attributes, updated_at FROM objects WHERE ref = ?", string(ref)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrObjectNotFound
		}
		return nil, fmt.Errorf("getting object %s: %w", ref, err)
	}
	return obj, nil
}

// FindObjects returns the objects whose type is in objectTypes, ordered by
// reference. An empty list returns every object.
func (b *Backend) FindObjects(ctx context.Context, objectTypes []string) ([]*types.Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBackendDetached
	}

	query := "SELECT ref, type, attributes, updated_at FROM objects"
	var args []any
	if len(objectTypes) > 0 {
		placeholders := make([]string, len(objectTypes))
		for i, t := range objectTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += " WHERE type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY ref"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying objects: %w", err)
	}
	defer rows.Close()

	var out []*types.Object
	for rows.Next() {
		obj, err := hydrateObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning object: %w", err)
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating objects: %w", err)
	}
	return out, nil
}

// DeleteObject removes an object and queues the planner's requests with the
// delete. Observers receive a delete change carrying the removed object as
// Previous.
// Returns ErrObjectNotFound if the object does not exist.
func (b *Backend) DeleteObject(ctx context.Context, ref types.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	change, err := b.deleteObject(ctx, ref)
	if err != nil {
		return err
	}
	return b.notify(ctx, change)
}

func (b *Backend) deleteObject(ctx context.Context, ref types.Ref) (types.Change, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.Change{}, types.ErrBackendDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Change{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	previous, err := hydrateObject(tx.QueryRowContext(ctx,
		"SELECT ref, type, attributes, updated_at FROM objects WHERE ref = ?", string(ref)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Change{}, types.ErrObjectNotFound
		}
		return types.Change{}, fmt.Errorf("reading object %s: %w", ref, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE ref = ?", string(ref)); err != nil {
		return types.Change{}, fmt.Errorf("deleting object %s: %w", ref, err)
	}
	change := types.Change{Kind: types.ChangeDelete, Ref: ref, Previous: previous}
	if err := b.queuePlanned(ctx, tx, change); err != nil {
		return types.Change{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Change{}, fmt.Errorf("committing delete of %s: %w", ref, err)
	}
	return change, nil
}

// hydrateObject scans an objects row into an Object.
func hydrateObject(row rowScanner) (*types.Object, error) {
	var (
		ref, objType, attrs, updatedAt string
	)
	if err := row.Scan(&ref, &objType, &attrs, &updatedAt); err != nil {
		return nil, err
	}
	ts, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at of %s: %w", ref, err)
	}
	return decodeObject(types.Ref(ref), objType, []byte(attrs), ts)
}

func decodeObject(ref types.Ref, objType string, attrs []byte, updatedAt time.Time) (*types.Object, error) {
	obj := &types.Object{
		Ref:        ref,
		Type:       objType,
		Attributes: map[string]any{},
		UpdatedAt:  updatedAt.UTC(),
	}
	if err := json.Unmarshal(attrs, &obj.Attributes); err != nil {
		return nil, fmt.Errorf("decoding attributes of %s: %w", ref, err)
	}
	return obj, nil
}
