// Package collections loads declarative collection definitions from YAML and
// turns them into types.Collection values and update rules.
//
// A definitions file looks like:
//
//	collections:
//	  - name: open_tasks
//	    types: [task]
//	    where: 'status != "done"'
//	    facts:
//	      - {name: title, type: text, path: title}
//	      - {name: assignee, type: ref, path: assignee}
//	      - {name: overdue, type: bool, expr: 'due != nil && due < "2025-01-01"'}
//	    rules:
//	      - {type: comment, follow: task}
//
// Fact paths are gjson paths into the object's attributes. Expressions are
// expr-lang programs evaluated against the attributes plus ref,
// object_type, updated_at, attrs and the facts computed so far.
package collections

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// File is the top-level structure of a definitions file.
type File struct {
	Collections []Definition `yaml:"collections" json:"collections"`
}

// Definition declares one collection.
type Definition struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Types       []string   `yaml:"types,omitempty" json:"types,omitempty"`
	Where       string     `yaml:"where,omitempty" json:"where,omitempty"`
	Facts       []FactSpec `yaml:"facts" json:"facts"`
	Rules       []RuleSpec `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// FactSpec declares one fact. Exactly one of Path and Expr is set.
type FactSpec struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
	Expr        string `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// RuleSpec declares that a change to an object of Type rebuilds the objects
// whose references are found at Follow in the changed object's attributes.
// An empty Follow rebuilds the changed object itself.
type RuleSpec struct {
	Type   string `yaml:"type" json:"type"`
	Follow string `yaml:"follow,omitempty" json:"follow,omitempty"`
}

// Set is a validated, compiled definitions file.
type Set struct {
	Collections []*Collection
	Rules       []types.UpdateRule
}

// Names returns the collection names in definition order.
func (s *Set) Names() []string {
	names := make([]string, len(s.Collections))
	for i, c := range s.Collections {
		names[i] = c.Name()
	}
	return names
}

// Load reads and compiles the definitions file at path.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions %s: %w", path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse decodes and compiles a definitions document.
func Parse(data []byte) (*Set, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidDefinition, err)
	}
	return Compile(file)
}

// Compile validates the definitions and builds their collections and rules.
func Compile(file File) (*Set, error) {
	set := &Set{}
	seen := make(map[string]bool, len(file.Collections))
	for _, def := range file.Collections {
		if seen[def.Name] {
			return nil, fmt.Errorf("%w: duplicate collection %q", types.ErrInvalidDefinition, def.Name)
		}
		seen[def.Name] = true

		coll, err := newCollection(def)
		if err != nil {
			return nil, err
		}
		set.Collections = append(set.Collections, coll)
		set.Rules = append(set.Rules, coll.rules()...)
	}
	return set, nil
}

// version is a stable digest of a definition. Any edit, including to
// descriptions, yields a new version and so a full rebuild.
func version(def Definition) string {
	data, _ := json.Marshal(def)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
