// This file implements the collection registry: the stored definition
// signature of each collection and the lifecycle of its fact table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// CollectionInfo describes a collection as registered in the database.
type CollectionInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnsureCollection registers coll and makes sure its fact table matches the
// fact definitions. A new collection or a change of fact names or types
// (re)creates the table; a version change alone keeps existing rows. In both
// cases it returns true and the caller requests a full rebuild.
func (b *Backend) EnsureCollection(ctx context.Context, coll types.Collection) (bool, error) {
	name := coll.Name()
	if !types.ValidName(name) {
		return false, fmt.Errorf("%w: collection name %q", types.ErrInvalidDefinition, name)
	}
	facts := append([]types.FactDefinition(nil), coll.Facts()...)
	seen := make(map[string]bool, len(facts))
	for _, f := range facts {
		if !types.ValidName(f.Name) || seen[f.Name] {
			return false, fmt.Errorf("%w: fact name %q in %s", types.ErrInvalidDefinition, f.Name, name)
		}
		if !f.Type.Valid() {
			return false, fmt.Errorf("%w: fact %s.%s has unknown type %q", types.ErrInvalidDefinition, name, f.Name, f.Type)
		}
		seen[f.Name] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return false, types.ErrBackendDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var storedVersion, storedSignature string
	err = tx.QueryRowContext(ctx,
		"SELECT version, schema_signature FROM collections WHERE name = ?", name,
	).Scan(&storedVersion, &storedSignature)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return false, fmt.Errorf("reading collection %s: %w", name, err)
	}

	signature := schemaSignature(facts)
	now := formatTime(b.clock())
	changed := false

	switch {
	case !exists:
		if _, err := tx.ExecContext(ctx, dropFactTableDDL(name)); err != nil {
			return false, fmt.Errorf("dropping stale fact table %s: %w", name, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO collections (name, version, schema_signature, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			name, coll.Version(), signature, now, now)
		if err != nil {
			return false, fmt.Errorf("registering collection %s: %w", name, err)
		}
		changed = true
	case storedSignature != signature:
		if _, err := tx.ExecContext(ctx, dropFactTableDDL(name)); err != nil {
			return false, fmt.Errorf("dropping fact table %s: %w", name, err)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE collections SET version = ?, schema_signature = ?, updated_at = ? WHERE name = ?",
			coll.Version(), signature, now, name)
		if err != nil {
			return false, fmt.Errorf("updating collection %s: %w", name, err)
		}
		changed = true
	case storedVersion != coll.Version():
		_, err = tx.ExecContext(ctx,
			"UPDATE collections SET version = ?, updated_at = ? WHERE name = ?",
			coll.Version(), now, name)
		if err != nil {
			return false, fmt.Errorf("updating collection %s: %w", name, err)
		}
		changed = true
	}

	for _, stmt := range createFactTableDDL(name, facts) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return false, fmt.Errorf("creating fact table %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing collection %s: %w", name, err)
	}
	b.schemas[name] = facts
	return changed, nil
}

// StoredCollections returns the collections registered in the database,
// ordered by name.
func (b *Backend) StoredCollections(ctx context.Context) ([]CollectionInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBackendDetached
	}

	rows, err := b.db.QueryContext(ctx,
		"SELECT name, version, created_at, updated_at FROM collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var (
			info                 CollectionInfo
			createdAt, updatedAt string
		)
		if err := rows.Scan(&info.Name, &info.Version, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		if info.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at of %s: %w", info.Name, err)
		}
		if info.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at of %s: %w", info.Name, err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating collections: %w", err)
	}
	return out, nil
}

// schemaFor returns the fact definitions of a registered collection.
// Callers must hold b.mu.
func (b *Backend) schemaFor(collection string) ([]types.FactDefinition, error) {
	facts, ok := b.schemas[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, collection)
	}
	return facts, nil
}
