package sqlite

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/facts/pkg/types"
)

func TestFormatTimeSortsLexically(t *testing.T) {
	earlier := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Nanosecond)

	a, b := formatTime(earlier), formatTime(later)
	assert.Len(t, b, len(a))
	assert.Less(t, a, b)

	parsed, err := parseTime(a)
	require.NoError(t, err)
	assert.True(t, earlier.Equal(parsed))
}

func TestEncodeDecodeFact(t *testing.T) {
	tests := []struct {
		name    string
		typ     types.FactType
		in      any
		stored  any
		decoded any
	}{
		{"text", types.FactText, "hello", "hello", "hello"},
		{"ref", types.FactRef, "user-1", "user-1", types.Ref("user-1")},
		{"int", types.FactInt, 42, int64(42), int64(42)},
		{"number", types.FactNumber, 1.5, 1.5, 1.5},
		{"bool true", types.FactBool, true, int64(1), true},
		{"bool false", types.FactBool, false, int64(0), false},
		{"date", types.FactDate, "2024-03-05T23:00:00Z", "2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"json", types.FactJSON, map[string]any{"a": 1}, `{"a":1}`, map[string]any{"a": float64(1)}},
		{"nil", types.FactText, nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := encodeFact(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, stored)

			decoded, err := decodeFact(tt.typ, stored)
			require.NoError(t, err)
			assert.Equal(t, tt.decoded, decoded)
		})
	}
}

func TestCreateFactTableDDL(t *testing.T) {
	stmts := createFactTableDDL("tasks", []types.FactDefinition{
		{Name: "title", Type: types.FactText},
		{Name: "points", Type: types.FactInt},
		{Name: "ratio", Type: types.FactNumber},
	})
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], `CREATE TABLE IF NOT EXISTS "facts_tasks"`)
	assert.Contains(t, stmts[0], `"f_title" TEXT`)
	assert.Contains(t, stmts[0], `"f_points" INTEGER`)
	assert.Contains(t, stmts[0], `"f_ratio" REAL`)
	assert.True(t, strings.HasSuffix(stmts[2], "WHERE valid_to IS NULL"))
}

func TestSchemaSignature(t *testing.T) {
	a := []types.FactDefinition{{Name: "title", Type: types.FactText}}
	b := []types.FactDefinition{{Name: "title", Type: types.FactText, Description: "changed"}}
	c := []types.FactDefinition{{Name: "title", Type: types.FactJSON}}

	assert.Equal(t, schemaSignature(a), schemaSignature(b))
	assert.NotEqual(t, schemaSignature(a), schemaSignature(c))
}
