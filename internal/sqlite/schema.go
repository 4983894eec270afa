// This file builds the DDL for per-collection fact tables and converts fact
// values to and from their column representation.
package sqlite

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// timeLayout is a fixed-width UTC layout, so timestamps stored as TEXT sort
// in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Fixed columns of every fact table, in select order.
var factRowColumns = []string{"row_id", "ref", "valid_from", "valid_to"}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// factTable returns the quoted table name holding the facts of collection.
// Collection names are validated identifiers.
func factTable(collection string) string {
	return quoteIdent("facts_" + collection)
}

// factColumn returns the quoted column name for a fact. The prefix keeps
// fact names clear of the fixed columns.
func factColumn(name string) string {
	return quoteIdent("f_" + name)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// columnType maps a fact type to its SQLite column type. Dates are kept as
// TEXT so the driver does not parse them.
func columnType(t types.FactType) string {
	switch t {
	case types.FactInt, types.FactBool:
		return "INTEGER"
	case types.FactNumber:
		return "REAL"
	default:
		return "TEXT"
	}
}

// schemaSignature identifies the column layout of a collection. A change in
// signature requires the fact table to be recreated.
func schemaSignature(facts []types.FactDefinition) string {
	parts := make([]string, len(facts))
	for i, f := range facts {
		parts[i] = f.Name + ":" + string(f.Type)
	}
	return strings.Join(parts, ",")
}

// createFactTableDDL returns the statements creating the fact table of a
// collection. The partial unique index enforces one open row per object.
func createFactTableDDL(collection string, facts []types.FactDefinition) []string {
	cols := []string{
		"row_id TEXT PRIMARY KEY",
		"ref TEXT NOT NULL",
		"valid_from TEXT NOT NULL",
		"valid_to TEXT",
	}
	for _, f := range facts {
		cols = append(cols, factColumn(f.Name)+" "+columnType(f.Type))
	}
	table := factTable(collection)
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", table, strings.Join(cols, ",\n    ")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (ref, valid_from)",
			quoteIdent("idx_facts_"+collection+"_ref"), table),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (ref) WHERE valid_to IS NULL",
			quoteIdent("idx_facts_"+collection+"_open"), table),
	}
}

func dropFactTableDDL(collection string) string {
	return "DROP TABLE IF EXISTS " + factTable(collection)
}

// selectColumns returns the column list for reading rows of a collection.
func selectColumns(facts []types.FactDefinition) string {
	cols := append([]string(nil), factRowColumns...)
	for _, f := range facts {
		cols = append(cols, factColumn(f.Name))
	}
	return strings.Join(cols, ", ")
}

// encodeFact converts a fact value to the value bound to its column.
func encodeFact(t types.FactType, v any) (any, error) {
	c, err := types.CoerceFact(t, v)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	switch t {
	case types.FactRef:
		return string(c.(types.Ref)), nil
	case types.FactBool:
		if c.(bool) {
			return int64(1), nil
		}
		return int64(0), nil
	case types.FactDate:
		return c.(time.Time).Format(types.DateLayout), nil
	case types.FactDateTime:
		return formatTime(c.(time.Time)), nil
	case types.FactJSON:
		data, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return c, nil
	}
}

// decodeFact converts a scanned column value back to its canonical form.
func decodeFact(t types.FactType, raw any) (any, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	if raw == nil {
		return nil, nil
	}
	switch t {
	case types.FactBool:
		if n, ok := raw.(int64); ok {
			return n != 0, nil
		}
	case types.FactJSON:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: json column holds %T", types.ErrTypeMismatch, raw)
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("decode json fact: %w", err)
		}
		return out, nil
	}
	return types.CoerceFact(t, raw)
}
