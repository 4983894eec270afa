// This file implements the fact tables: reading open rows and history, and
// the close-then-insert mutation that keeps one open row per object.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// OpenRows returns the open row of every object in the collection, keyed by
// reference.
func (b *Backend) OpenRows(ctx context.Context, collection string) (map[types.Ref]*types.FactRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.queryRows(ctx, collection, "valid_to IS NULL")
	if err != nil {
		return nil, err
	}
	out := make(map[types.Ref]*types.FactRow, len(rows))
	for _, r := range rows {
		out[r.Ref] = r
	}
	return out, nil
}

// OpenRow returns the open row for ref, or nil if the object has none.
func (b *Backend) OpenRow(ctx context.Context, collection string, ref types.Ref) (*types.FactRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.queryRows(ctx, collection, "ref = ? AND valid_to IS NULL", string(ref))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// RowsAt returns the rows valid at time at, ordered by reference.
func (b *Backend) RowsAt(ctx context.Context, collection string, at time.Time) ([]*types.FactRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ts := formatTime(at)
	return b.queryRows(ctx, collection,
		"valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)", ts, ts)
}

// History returns every row recorded for ref, oldest first.
func (b *Backend) History(ctx context.Context, collection string, ref types.Ref) ([]*types.FactRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.queryRows(ctx, collection, "ref = ?", string(ref))
}

// CloseRow sets valid_to of an open row.
func (b *Backend) CloseRow(ctx context.Context, collection string, rowID string, at time.Time) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrBackendDetached
	}
	if _, err := b.schemaFor(collection); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := closeRow(ctx, tx, collection, rowID, at); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing close of row %s: %w", rowID, err)
	}
	return nil
}

// InsertRow inserts a row for an object that has no open row.
func (b *Backend) InsertRow(ctx context.Context, collection string, row *types.FactRow) error {
	return b.ReplaceRow(ctx, collection, "", row)
}

// ReplaceRow closes previousRowID at row.ValidFrom, if given, and inserts
// row in the same transaction. A previous row that opened at the same
// instant is removed instead of being closed, so no row has an empty
// interval.
func (b *Backend) ReplaceRow(ctx context.Context, collection string, previousRowID string, row *types.FactRow) error {
	if row == nil {
		return fmt.Errorf("replacing row in %s: nil row", collection)
	}
	if err := row.Ref.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrBackendDetached
	}
	facts, err := b.schemaFor(collection)
	if err != nil {
		return err
	}

	args := []any{nil, string(row.Ref), formatTime(row.ValidFrom), nil}
	if row.ValidTo != nil {
		args[3] = formatTime(*row.ValidTo)
	}
	for _, f := range facts {
		v, err := encodeFact(f.Type, row.Facts[f.Name])
		if err != nil {
			return fmt.Errorf("fact %s.%s: %w", collection, f.Name, err)
		}
		args = append(args, v)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if previousRowID != "" {
		if err := closeRow(ctx, tx, collection, previousRowID, row.ValidFrom); err != nil {
			return err
		}
	}

	if row.RowID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating UUID v7: %w", err)
		}
		row.RowID = id.String()
	}
	args[0] = row.RowID

	placeholders := "?"
	for range args[1:] {
		placeholders += ", ?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		factTable(collection), selectColumns(facts), placeholders)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting row for %s in %s: %w", row.Ref, collection, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing row for %s in %s: %w", row.Ref, collection, err)
	}
	return nil
}

// closeRow closes an open row inside tx. A row opened at or after at is
// deleted.
func closeRow(ctx context.Context, tx *sql.Tx, collection, rowID string, at time.Time) error {
	table := factTable(collection)

	var validFrom string
	err := tx.QueryRowContext(ctx,
		"SELECT valid_from FROM "+table+" WHERE row_id = ? AND valid_to IS NULL", rowID,
	).Scan(&validFrom)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("row %s in %s is not open", rowID, collection)
	}
	if err != nil {
		return fmt.Errorf("reading row %s in %s: %w", rowID, collection, err)
	}

	ts := formatTime(at)
	if validFrom >= ts {
		_, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE row_id = ?", rowID)
	} else {
		_, err = tx.ExecContext(ctx, "UPDATE "+table+" SET valid_to = ? WHERE row_id = ?", ts, rowID)
	}
	if err != nil {
		return fmt.Errorf("closing row %s in %s: %w", rowID, collection, err)
	}
	return nil
}

// queryRows reads the rows of a collection matching where. Callers must hold
// b.mu.
func (b *Backend) queryRows(ctx context.Context, collection, where string, args ...any) ([]*types.FactRow, error) {
	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	facts, err := b.schemaFor(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY ref, valid_from",
		selectColumns(facts), factTable(collection), where)
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*types.FactRow
	for rows.Next() {
		r, err := hydrateRow(rows, facts)
		if err != nil {
			return nil, fmt.Errorf("scanning row of %s: %w", collection, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", collection, err)
	}
	return out, nil
}

// hydrateRow scans one fact table row.
func hydrateRow(row rowScanner, facts []types.FactDefinition) (*types.FactRow, error) {
	var (
		rowID, ref, validFrom string
		validTo               sql.NullString
	)
	raw := make([]any, len(facts))
	dest := []any{&rowID, &ref, &validFrom, &validTo}
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	r := &types.FactRow{RowID: rowID, Ref: types.Ref(ref), Facts: make(types.Facts, len(facts))}
	var err error
	if r.ValidFrom, err = parseTime(validFrom); err != nil {
		return nil, fmt.Errorf("parsing valid_from: %w", err)
	}
	if validTo.Valid {
		to, err := parseTime(validTo.String)
		if err != nil {
			return nil, fmt.Errorf("parsing valid_to: %w", err)
		}
		r.ValidTo = &to
	}
	for i, f := range facts {
		v, err := decodeFact(f.Type, raw[i])
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", f.Name, err)
		}
		r.Facts[f.Name] = v
	}
	return r, nil
}
