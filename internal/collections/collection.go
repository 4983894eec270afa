package collections

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/tidwall/gjson"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// Names reserved in the expression environment. They shadow attributes of
// the same name; the attributes stay reachable through attrs.
const (
	envRef       = "ref"
	envType      = "object_type"
	envUpdatedAt = "updated_at"
	envAttrs     = "attrs"
	envFacts     = "facts"
)

// Compile-time interface check.
var _ types.Collection = (*Collection)(nil)

// Collection is a types.Collection compiled from a Definition.
type Collection struct {
	def     Definition
	version string
	facts   []types.FactDefinition
	where   *vm.Program
	compute []factProgram
}

// factProgram computes one fact from either a gjson path or a program.
type factProgram struct {
	def     types.FactDefinition
	path    string
	program *vm.Program
}

func newCollection(def Definition) (*Collection, error) {
	if !types.ValidName(def.Name) {
		return nil, fmt.Errorf("%w: collection name %q must match [a-z][a-z0-9_]*", types.ErrInvalidDefinition, def.Name)
	}
	if len(def.Facts) == 0 {
		return nil, fmt.Errorf("%w: collection %s declares no facts", types.ErrInvalidDefinition, def.Name)
	}
	for _, t := range def.Types {
		if t == "" || t == types.AnyObjectType {
			return nil, fmt.Errorf("%w: collection %s lists an invalid object type %q", types.ErrInvalidDefinition, def.Name, t)
		}
	}

	c := &Collection{def: def, version: version(def)}

	if def.Where != "" {
		program, err := expr.Compile(def.Where, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%w: collection %s where: %v", types.ErrInvalidDefinition, def.Name, err)
		}
		c.where = program
	}

	seen := make(map[string]bool, len(def.Facts))
	for _, spec := range def.Facts {
		fd := types.FactDefinition{Name: spec.Name, Type: types.FactType(spec.Type), Description: spec.Description}
		switch {
		case !types.ValidName(spec.Name):
			return nil, fmt.Errorf("%w: %s: fact name %q must match [a-z][a-z0-9_]*", types.ErrInvalidDefinition, def.Name, spec.Name)
		case seen[spec.Name]:
			return nil, fmt.Errorf("%w: %s: duplicate fact %q", types.ErrInvalidDefinition, def.Name, spec.Name)
		case !fd.Type.Valid():
			return nil, fmt.Errorf("%w: %s.%s: unknown fact type %q", types.ErrInvalidDefinition, def.Name, spec.Name, spec.Type)
		case (spec.Path == "") == (spec.Expr == ""):
			return nil, fmt.Errorf("%w: %s.%s: exactly one of path and expr is required", types.ErrInvalidDefinition, def.Name, spec.Name)
		}
		seen[spec.Name] = true

		fp := factProgram{def: fd, path: spec.Path}
		if spec.Expr != "" {
			program, err := expr.Compile(spec.Expr, expr.AllowUndefinedVariables())
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s expr: %v", types.ErrInvalidDefinition, def.Name, spec.Name, err)
			}
			fp.program = program
		}
		c.facts = append(c.facts, fd)
		c.compute = append(c.compute, fp)
	}

	for _, r := range def.Rules {
		if r.Type == "" {
			return nil, fmt.Errorf("%w: %s: rule without object type", types.ErrInvalidDefinition, def.Name)
		}
		if r.Type == types.AnyObjectType && r.Follow == "" {
			return nil, fmt.Errorf("%w: %s: a rule for every type needs a follow path", types.ErrInvalidDefinition, def.Name)
		}
	}
	return c, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.def.Name }

// Version returns the digest of the definition.
func (c *Collection) Version() string { return c.version }

// Description returns the definition's description.
func (c *Collection) Description() string { return c.def.Description }

// ObjectTypes returns the object types the collection draws from. Empty
// means every type.
func (c *Collection) ObjectTypes() []string { return slices.Clone(c.def.Types) }

// Facts returns the fact columns in definition order.
func (c *Collection) Facts() []types.FactDefinition { return slices.Clone(c.facts) }

// Includes reports whether obj has one of the collection's types and
// satisfies its where filter.
func (c *Collection) Includes(obj *types.Object) (bool, error) {
	if obj == nil {
		return false, nil
	}
	if len(c.def.Types) > 0 && !slices.Contains(c.def.Types, obj.Type) {
		return false, nil
	}
	if c.where == nil {
		return true, nil
	}
	out, err := expr.Run(c.where, environment(obj, nil))
	if err != nil {
		return false, fmt.Errorf("%s where for %s: %w", c.def.Name, obj.Ref, err)
	}
	ok, isBool := out.(bool)
	if !isBool && out != nil {
		return false, fmt.Errorf("%s where for %s: result %T is not a bool", c.def.Name, obj.Ref, out)
	}
	return ok, nil
}

// Find returns the objects that currently belong to the collection, ordered
// by reference.
func (c *Collection) Find(ctx context.Context, store types.ObjectStore) ([]*types.Object, error) {
	candidates, err := store.FindObjects(ctx, c.def.Types)
	if err != nil {
		return nil, fmt.Errorf("finding %s candidates: %w", c.def.Name, err)
	}
	out := candidates[:0]
	for _, obj := range candidates {
		ok, err := c.Includes(obj)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// Compute derives every fact of obj. A value that does not fit its fact
// type is stored as nil; an expression that fails to evaluate is an error.
func (c *Collection) Compute(_ context.Context, obj *types.Object) (types.Facts, error) {
	raw, err := json.Marshal(attributes(obj))
	if err != nil {
		return nil, fmt.Errorf("encoding attributes of %s: %w", obj.Ref, err)
	}

	facts := make(types.Facts, len(c.compute))
	for _, fp := range c.compute {
		var v any
		if fp.program != nil {
			v, err = expr.Run(fp.program, environment(obj, facts))
			if err != nil {
				return nil, fmt.Errorf("%s.%s for %s: %w", c.def.Name, fp.def.Name, obj.Ref, err)
			}
		} else {
			v = resultValue(gjson.GetBytes(raw, fp.path))
		}
		coerced, err := types.CoerceFact(fp.def.Type, v)
		if err != nil {
			coerced = nil
		}
		facts[fp.def.Name] = coerced
	}
	return facts, nil
}

// rules returns the update rules of the collection: one implicit rule per
// listed object type, plus the declared follow rules.
func (c *Collection) rules() []types.UpdateRule {
	var out []types.UpdateRule
	if len(c.def.Types) == 0 {
		out = append(out, types.UpdateRule{ObjectType: types.AnyObjectType, Collection: c.def.Name})
	}
	for _, t := range c.def.Types {
		out = append(out, types.UpdateRule{ObjectType: t, Collection: c.def.Name})
	}
	for _, r := range c.def.Rules {
		rule := types.UpdateRule{ObjectType: r.Type, Collection: c.def.Name}
		if r.Follow != "" {
			rule.Resolve = followRefs(r.Follow)
		}
		out = append(out, rule)
	}
	return out
}

// followRefs resolves a gjson path in an object's attributes to the
// references it holds: a string, or an array of strings.
func followRefs(path string) func(*types.Object) []types.Ref {
	return func(obj *types.Object) []types.Ref {
		raw, err := json.Marshal(attributes(obj))
		if err != nil {
			return nil
		}
		res := gjson.GetBytes(raw, path)
		var candidates []gjson.Result
		if res.IsArray() {
			candidates = res.Array()
		} else if res.Exists() {
			candidates = []gjson.Result{res}
		}
		var refs []types.Ref
		for _, r := range candidates {
			if r.Type != gjson.String {
				continue
			}
			ref := types.Ref(r.String())
			if ref.Validate() == nil && !slices.Contains(refs, ref) {
				refs = append(refs, ref)
			}
		}
		return refs
	}
}

// environment builds the expression environment for obj.
func environment(obj *types.Object, facts types.Facts) map[string]any {
	attrs := attributes(obj)
	env := make(map[string]any, len(attrs)+5)
	for k, v := range attrs {
		env[k] = v
	}
	env[envRef] = string(obj.Ref)
	env[envType] = obj.Type
	env[envUpdatedAt] = obj.UpdatedAt
	env[envAttrs] = attrs
	computed := make(map[string]any, len(facts))
	for k, v := range facts {
		if ref, ok := v.(types.Ref); ok {
			v = string(ref)
		}
		computed[k] = v
	}
	env[envFacts] = computed
	return env
}

func attributes(obj *types.Object) map[string]any {
	if obj.Attributes == nil {
		return map[string]any{}
	}
	return obj.Attributes
}

// resultValue converts a gjson result to a plain Go value.
func resultValue(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		if r.Float() == float64(r.Int()) {
			return r.Int()
		}
		return r.Float()
	case gjson.String:
		return r.String()
	case gjson.JSON:
		return r.Value()
	default:
		return nil
	}
}
