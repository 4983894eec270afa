package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/facts/pkg/types"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func setupCollection(t *testing.T) (*Backend, *testCollection) {
	t.Helper()
	b := setupBackend(t)
	coll := newTestCollection("tasks")
	changed, err := b.EnsureCollection(context.Background(), coll)
	require.NoError(t, err)
	require.True(t, changed)
	return b, coll
}

func TestEnsureCollection(t *testing.T) {
	ctx := context.Background()
	b, coll := setupCollection(t)

	// Same definition: nothing to do.
	changed, err := b.EnsureCollection(ctx, coll)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, b.InsertRow(ctx, "tasks", &types.FactRow{Ref: "task-1", ValidFrom: t0, Facts: types.Facts{"title": "A"}}))

	// A version bump keeps rows.
	coll.version = "v2"
	changed, err = b.EnsureCollection(ctx, coll)
	require.NoError(t, err)
	assert.True(t, changed)
	open, err := b.OpenRows(ctx, "tasks")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	// A new fact recreates the table.
	coll.facts = append(coll.facts, types.FactDefinition{Name: "labels", Type: types.FactJSON})
	changed, err = b.EnsureCollection(ctx, coll)
	require.NoError(t, err)
	assert.True(t, changed)
	open, err = b.OpenRows(ctx, "tasks")
	require.NoError(t, err)
	assert.Empty(t, open)

	stored, err := b.StoredCollections(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "tasks", stored[0].Name)
	assert.Equal(t, "v2", stored[0].Version)
}

func TestEnsureCollection_InvalidDefinition(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)

	tests := []struct {
		name string
		coll *testCollection
	}{
		{"bad collection name", &testCollection{name: "My Tasks"}},
		{"bad fact name", &testCollection{name: "tasks", facts: []types.FactDefinition{{Name: "Title", Type: types.FactText}}}},
		{"duplicate fact", &testCollection{name: "tasks", facts: []types.FactDefinition{
			{Name: "title", Type: types.FactText}, {Name: "title", Type: types.FactInt},
		}}},
		{"unknown fact type", &testCollection{name: "tasks", facts: []types.FactDefinition{{Name: "title", Type: "string"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.EnsureCollection(ctx, tt.coll)
			assert.ErrorIs(t, err, types.ErrInvalidDefinition)
		})
	}
}

func TestFacts_UnknownCollection(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)

	_, err := b.OpenRows(ctx, "tasks")
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)
	err = b.InsertRow(ctx, "tasks", &types.FactRow{Ref: "task-1", ValidFrom: t0})
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)
}

func TestFacts_RoundTripEveryType(t *testing.T) {
	ctx := context.Background()
	b, coll := setupCollection(t)

	seen := time.Date(2024, 4, 30, 18, 15, 30, 123456789, time.FixedZone("CEST", 2*3600))
	facts := types.Facts{
		"title":   "Write docs",
		"owner":   types.Ref("user-1"),
		"points":  int64(5),
		"ratio":   0.25,
		"done":    true,
		"due":     "2024-05-10",
		"seen_at": seen,
		"extra":   map[string]any{"labels": []any{"a", "b"}, "n": 1},
	}
	row := &types.FactRow{Ref: "task-1", ValidFrom: t0, Facts: facts}
	require.NoError(t, b.InsertRow(ctx, "tasks", row))
	assert.NotEmpty(t, row.RowID)

	got, err := b.OpenRow(ctx, "tasks", "task-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, row.RowID, got.RowID)
	assert.True(t, got.IsOpen())
	assert.True(t, t0.Equal(got.ValidFrom))
	assert.True(t, types.FactsEqual(coll.Facts(), facts, got.Facts), "got %#v", got.Facts)

	assert.Equal(t, "Write docs", got.Facts["title"])
	assert.Equal(t, types.Ref("user-1"), got.Facts["owner"])
	assert.Equal(t, int64(5), got.Facts["points"])
	assert.Equal(t, 0.25, got.Facts["ratio"])
	assert.Equal(t, true, got.Facts["done"])
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), got.Facts["due"])
	assert.True(t, seen.Equal(got.Facts["seen_at"].(time.Time)))
}

func TestFacts_NullFacts(t *testing.T) {
	ctx := context.Background()
	b, coll := setupCollection(t)

	require.NoError(t, b.InsertRow(ctx, "tasks", &types.FactRow{Ref: "task-1", ValidFrom: t0, Facts: types.Facts{}}))
	got, err := b.OpenRow(ctx, "tasks", "task-1")
	require.NoError(t, err)
	for _, f := range coll.Facts() {
		v, ok := got.Facts[f.Name]
		assert.True(t, ok, f.Name)
		assert.Nil(t, v, f.Name)
	}
}

func TestFacts_InsertRejectsBadValue(t *testing.T) {
	ctx := context.Background()
	b, _ := setupCollection(t)

	err := b.InsertRow(ctx, "tasks", &types.FactRow{Ref: "task-1", ValidFrom: t0, Facts: types.Facts{"points": "many"}})
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
}

func TestFacts_ReplaceKeepsOneOpenRow(t *testing.T) {
	ctx := context.Background()
	b, _ := setupCollection(t)

	first := &types.FactRow{Ref: "task-1", ValidFrom: t0, Facts: types.Facts{"title": "A"}}
	require.NoError(t, b.InsertRow(ctx, "tasks", first))

	// A second open row for the same object violates the open-row index.
	err := b.InsertRow(ctx, "tasks", &types.FactRow{Ref: "task-1", ValidFrom: t0.Add(time.Minute)})
	assert.Error(t, err)

	t1 := t0.Add(time.Hour)
	second := &types.FactRow{Ref: "task-1", ValidFrom: t1, Facts: types.Facts{"title": "B"}}
	require.NoError(t, b.ReplaceRow(ctx, "tasks", first.RowID, second))

	history, err := b.History(ctx, "tasks", "task-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.RowID, history[0].RowID)
	require.NotNil(t, history[0].ValidTo)
	assert.True(t, t1.Equal(*history[0].ValidTo))
	assert.Equal(t, second.RowID, history[1].RowID)
	assert.True(t, history[1].IsOpen())

	open, err := b.OpenRows(ctx, "tasks")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "B", open["task-1"].Facts["title"])
}

func TestFacts_ReplaceAtSameInstantDropsEmptyInterval(t *testing.T) {
	ctx := context.Background()
	b, _ := setupCollection(t)

	first := &types.FactRow{Ref: "task-1", ValidFrom: t0, Facts: types.Facts{"title": "A"}}
	require.NoError(t, b.InsertRow(ctx, "tasks", first))
	second := &types.FactRow{Ref: "task-1", ValidFrom: t0, Facts: types.Facts{"title": "B"}}
	require.NoError(t, b.ReplaceRow(ctx, "tasks", first.RowID, second))

	history, err := b.History(ctx, "tasks", "task-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "B", history[0].Facts["title"])
}

func TestFacts_CloseRow(t *testing.T) {
	ctx := context.Background()
	b, _ := setupCollection(t)

	row := &types.FactRow{Ref: "task-1", ValidFrom: t0}
	require.NoError(t, b.InsertRow(ctx, "tasks", row))
	require.NoError(t, b.CloseRow(ctx, "tasks", row.RowID, t0.Add(time.Hour)))

	got, err := b.OpenRow(ctx, "tasks", "task-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Closing twice fails: the row is no longer open.
	assert.Error(t, b.CloseRow(ctx, "tasks", row.RowID, t0.Add(2*time.Hour)))
}

func TestFacts_RowsAt(t *testing.T) {
	ctx := context.Background()
	b, _ := setupCollection(t)

	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	a1 := &types.FactRow{Ref: "task-a", ValidFrom: t0, Facts: types.Facts{"title": "a1"}}
	require.NoError(t, b.InsertRow(ctx, "tasks", a1))
	require.NoError(t, b.ReplaceRow(ctx, "tasks", a1.RowID, &types.FactRow{Ref: "task-a", ValidFrom: t1, Facts: types.Facts{"title": "a2"}}))

	b1 := &types.FactRow{Ref: "task-b", ValidFrom: t1, Facts: types.Facts{"title": "b1"}}
	require.NoError(t, b.InsertRow(ctx, "tasks", b1))
	require.NoError(t, b.CloseRow(ctx, "tasks", b1.RowID, t2))

	titlesAt := func(at time.Time) []string {
		rows, err := b.RowsAt(ctx, "tasks", at)
		require.NoError(t, err)
		var out []string
		for _, r := range rows {
			out = append(out, r.Facts["title"].(string))
		}
		return out
	}

	assert.Nil(t, titlesAt(t0.Add(-time.Second)))
	assert.Equal(t, []string{"a1"}, titlesAt(t0))
	assert.Equal(t, []string{"a2", "b1"}, titlesAt(t1))
	assert.Equal(t, []string{"a2"}, titlesAt(t2))
}
