package types

import (
	"context"
	"time"
)

// FactStore holds the fact tables of registered collections.
type FactStore interface {
	// EnsureCollection registers coll with the store, creating its fact
	// table if needed. It returns true when the stored definition was
	// missing or differs, in which case the caller must request a full
	// rebuild.
	EnsureCollection(ctx context.Context, coll Collection) (bool, error)

	// OpenRows returns the open row of every object in the collection.
	OpenRows(ctx context.Context, collection string) (map[Ref]*FactRow, error)

	// OpenRow returns the open row for ref, or nil if there is none.
	OpenRow(ctx context.Context, collection string, ref Ref) (*FactRow, error)

	// CloseRow sets ValidTo of the row to at.
	CloseRow(ctx context.Context, collection string, rowID string, at time.Time) error

	// ReplaceRow closes previousRowID (if non-empty) at row.ValidFrom and
	// inserts row in one transaction. RowID is assigned when empty.
	ReplaceRow(ctx context.Context, collection string, previousRowID string, row *FactRow) error

	// RowsAt returns the rows valid at time at, ordered by reference.
	RowsAt(ctx context.Context, collection string, at time.Time) ([]*FactRow, error)

	// History returns every row for ref, oldest first.
	History(ctx context.Context, collection string, ref Ref) ([]*FactRow, error)
}

// RebuildQueue is the durable queue of pending rebuild requests.
type RebuildQueue interface {
	// Enqueue appends requests; IDs and RequestedAt are assigned.
	Enqueue(ctx context.Context, reqs ...RebuildRequest) error

	// PendingRequests returns every queued request in arrival order without
	// removing them.
	PendingRequests(ctx context.Context) ([]RebuildRequest, error)

	// DeleteRequests removes the requests with the given IDs.
	DeleteRequests(ctx context.Context, ids []string) error
}

// Store is the full backend: an object store with change notification, the
// fact tables and the rebuild queue.
type Store interface {
	ObjectStore
	FactStore
	RebuildQueue

	// Attach connects the store to the backend described by config.
	// Returns ErrAlreadyAttached if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent.
	Detach() error

	// PutObject creates or replaces an object and notifies observers.
	PutObject(ctx context.Context, obj *Object) error

	// DeleteObject removes an object and notifies observers.
	// Returns ErrObjectNotFound if it does not exist.
	DeleteObject(ctx context.Context, ref Ref) error

	// Observe registers an observer for committed object changes.
	Observe(observer ChangeObserver)
}
