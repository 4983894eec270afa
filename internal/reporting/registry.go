// Package reporting keeps fact collections up to date. Object changes and a
// daily consistency check enqueue rebuild requests; a single scheduler
// drains the queue in batches and rewrites only the fact rows whose facts
// changed.
package reporting

import (
	"slices"
	"sync"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// Store is the part of the backend the scheduler works against.
type Store interface {
	types.ObjectStore
	types.FactStore
	types.RebuildQueue
}

// Registry holds the active collections and the rule table mapping object
// types to collections. It is safe for concurrent use; definitions can be
// replaced while the scheduler runs.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]types.Collection
	order       []string
	rules       []types.UpdateRule
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]types.Collection)}
}

// Register adds or replaces one collection together with its rules. Rules
// previously registered for the collection are dropped.
func (r *Registry) Register(coll types.Collection, rules ...types.UpdateRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := coll.Name()
	if _, ok := r.collections[name]; !ok {
		r.order = append(r.order, name)
	}
	r.collections[name] = coll
	r.rules = slices.DeleteFunc(r.rules, func(rule types.UpdateRule) bool {
		return rule.Collection == name
	})
	r.rules = append(r.rules, rules...)
}

// Replace swaps the whole registry content.
func (r *Registry) Replace(colls []types.Collection, rules []types.UpdateRule) {
	collections := make(map[string]types.Collection, len(colls))
	order := make([]string, 0, len(colls))
	for _, c := range colls {
		if _, ok := collections[c.Name()]; !ok {
			order = append(order, c.Name())
		}
		collections[c.Name()] = c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections = collections
	r.order = order
	r.rules = slices.Clone(rules)
}

// Collection returns the collection registered under name.
func (r *Registry) Collection(name string) (types.Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	return c, ok
}

// Collections returns the registered collections in registration order.
func (r *Registry) Collections() []types.Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Collection, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.collections[name])
	}
	return out
}

// Rules returns the rule table.
func (r *Registry) Rules() []types.UpdateRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.rules)
}

// RequestsFor applies the rule table to both snapshots of a change and
// returns the per-object rebuilds it implies, without duplicates. Applying
// the rules to the previous snapshot rebuilds objects the change moved away
// from, such as a task whose comment was re-attached elsewhere.
func (r *Registry) RequestsFor(change types.Change) []types.RebuildRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type key struct {
		collection string
		ref        types.Ref
	}
	seen := make(map[key]bool)
	var out []types.RebuildRequest
	for _, obj := range change.Objects() {
		for _, rule := range r.rules {
			if !rule.Matches(obj.Type) {
				continue
			}
			if _, ok := r.collections[rule.Collection]; !ok {
				continue
			}
			for _, ref := range rule.Targets(obj) {
				k := key{rule.Collection, ref}
				if seen[k] {
					continue
				}
				seen[k] = true
				out = append(out, types.ObjectRebuild(rule.Collection, ref))
			}
		}
	}
	return out
}
