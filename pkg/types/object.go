package types

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// Ref identifies a source object in the object store.
type Ref string

// String returns the reference as a plain string.
func (r Ref) String() string { return string(r) }

// Validate returns ErrInvalidRef if the reference is empty or contains
// whitespace.
func (r Ref) Validate() error {
	if r == "" {
		return ErrInvalidRef
	}
	if strings.IndexFunc(string(r), unicode.IsSpace) >= 0 {
		return ErrInvalidRef
	}
	return nil
}

// Object is a source object as seen by the fact collections. Attributes hold
// the object's JSON document; collections derive facts from it.
type Object struct {
	Ref        Ref            `json:"ref"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ObjectStore is the read side of the object store that collections query.
type ObjectStore interface {
	// GetObject returns the object with the given reference.
	// Returns ErrObjectNotFound if no such object exists.
	GetObject(ctx context.Context, ref Ref) (*Object, error)

	// FindObjects returns every object whose type is in objectTypes, ordered
	// by reference. An empty list returns every object.
	FindObjects(ctx context.Context, objectTypes []string) ([]*Object, error)
}

// Change kinds delivered to ChangeObservers.
const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// Change describes a committed mutation of one object. Previous is nil on
// create; Object is nil on delete.
type Change struct {
	Kind     string
	Ref      Ref
	Object   *Object
	Previous *Object
}

// Objects returns the non-nil snapshots carried by the change, current first.
func (c Change) Objects() []*Object {
	var out []*Object
	if c.Object != nil {
		out = append(out, c.Object)
	}
	if c.Previous != nil {
		out = append(out, c.Previous)
	}
	return out
}

// ChangeObserver receives object mutations after they are committed.
type ChangeObserver interface {
	ObjectChanged(ctx context.Context, change Change) error
}

// RequestPlanner returns the rebuild requests implied by change. A store that
// accepts a planner persists them in the same transaction as the change.
type RequestPlanner func(change Change) []RebuildRequest

// ChangeObserverFunc adapts a function to the ChangeObserver interface.
type ChangeObserverFunc func(ctx context.Context, change Change) error

// ObjectChanged calls f(ctx, change).
func (f ChangeObserverFunc) ObjectChanged(ctx context.Context, change Change) error {
	return f(ctx, change)
}
