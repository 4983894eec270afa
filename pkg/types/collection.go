package types

import "context"

// Collection defines a derived fact table. The scheduler asks a collection
// for its authoritative object set and for the facts of a single object; it
// never interprets the facts itself beyond FactsEqual.
type Collection interface {
	// Name is the collection's unique name; it is a valid identifier.
	Name() string

	// Version changes whenever the definition changes in a way that requires
	// a full rebuild.
	Version() string

	// Facts lists the fact columns in display order.
	Facts() []FactDefinition

	// Includes reports whether obj belongs to the collection.
	Includes(obj *Object) (bool, error)

	// Find returns every object that currently belongs to the collection.
	Find(ctx context.Context, store ObjectStore) ([]*Object, error)

	// Compute derives the facts for obj. Every fact in Facts must be
	// present in the result, possibly as nil.
	Compute(ctx context.Context, obj *Object) (Facts, error)
}

// AnyObjectType as an UpdateRule's ObjectType matches objects of every type.
const AnyObjectType = "*"

// UpdateRule maps a change of an object of ObjectType to rebuilds of
// objects in Collection. Resolve returns the references to rebuild; a nil
// Resolve rebuilds the changed object itself.
type UpdateRule struct {
	ObjectType string
	Collection string
	Resolve    func(obj *Object) []Ref
}

// Matches reports whether the rule applies to objects of objectType.
func (r UpdateRule) Matches(objectType string) bool {
	return r.ObjectType == AnyObjectType || r.ObjectType == objectType
}

// Targets returns the references the rule asks to rebuild for obj.
func (r UpdateRule) Targets(obj *Object) []Ref {
	if obj == nil {
		return nil
	}
	if r.Resolve == nil {
		return []Ref{obj.Ref}
	}
	return r.Resolve(obj)
}
