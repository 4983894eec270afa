package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/facts/pkg/types"
)

func TestObjects_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	b.SetClock(fixedClock(start))

	obj := &types.Object{
		Ref:        "task-1",
		Type:       "task",
		Attributes: map[string]any{"title": "Write docs", "points": 3},
	}
	require.NoError(t, b.PutObject(ctx, obj))
	assert.Equal(t, start, obj.UpdatedAt)

	got, err := b.GetObject(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, types.Ref("task-1"), got.Ref)
	assert.Equal(t, "task", got.Type)
	assert.Equal(t, "Write docs", got.Attributes["title"])
	assert.Equal(t, float64(3), got.Attributes["points"])
	assert.True(t, start.Equal(got.UpdatedAt))

	obj.Attributes["title"] = "Write more docs"
	require.NoError(t, b.PutObject(ctx, obj))
	got, err = b.GetObject(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "Write more docs", got.Attributes["title"])
	assert.True(t, start.Add(time.Second).Equal(got.UpdatedAt))

	require.NoError(t, b.DeleteObject(ctx, "task-1"))
	_, err = b.GetObject(ctx, "task-1")
	assert.ErrorIs(t, err, types.ErrObjectNotFound)

	assert.ErrorIs(t, b.DeleteObject(ctx, "task-1"), types.ErrObjectNotFound)
}

func TestObjects_PutValidation(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)

	tests := []struct {
		name    string
		obj     *types.Object
		wantErr error
	}{
		{"nil object", nil, types.ErrInvalidObject},
		{"empty ref", &types.Object{Type: "task"}, types.ErrInvalidRef},
		{"ref with space", &types.Object{Ref: "task 1", Type: "task"}, types.ErrInvalidRef},
		{"missing type", &types.Object{Ref: "task-1"}, types.ErrInvalidObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, b.PutObject(ctx, tt.obj), tt.wantErr)
		})
	}
}

func TestObjects_FindObjects(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)

	for _, obj := range []*types.Object{
		{Ref: "task-2", Type: "task"},
		{Ref: "user-1", Type: "user"},
		{Ref: "task-1", Type: "task"},
		{Ref: "note-1", Type: "note"},
	} {
		require.NoError(t, b.PutObject(ctx, obj))
	}

	tests := []struct {
		name  string
		types []string
		want  []types.Ref
	}{
		{"all objects ordered by ref", nil, []types.Ref{"note-1", "task-1", "task-2", "user-1"}},
		{"single type", []string{"task"}, []types.Ref{"task-1", "task-2"}},
		{"several types", []string{"user", "note"}, []types.Ref{"note-1", "user-1"}},
		{"unknown type", []string{"milestone"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs, err := b.FindObjects(ctx, tt.types)
			require.NoError(t, err)
			var refs []types.Ref
			for _, o := range objs {
				refs = append(refs, o.Ref)
			}
			assert.Equal(t, tt.want, refs)
		})
	}
}

func TestObjects_ObserversSeeCommittedChanges(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)

	var changes []types.Change
	b.Observe(types.ChangeObserverFunc(func(ctx context.Context, c types.Change) error {
		// The change must already be visible to readers.
		_, err := b.GetObject(ctx, c.Ref)
		if c.Kind == types.ChangeDelete {
			assert.ErrorIs(t, err, types.ErrObjectNotFound)
		} else {
			assert.NoError(t, err)
		}
		changes = append(changes, c)
		return nil
	}))

	require.NoError(t, b.PutObject(ctx, &types.Object{Ref: "task-1", Type: "task", Attributes: map[string]any{"v": 1}}))
	require.NoError(t, b.PutObject(ctx, &types.Object{Ref: "task-1", Type: "bug", Attributes: map[string]any{"v": 2}}))
	require.NoError(t, b.DeleteObject(ctx, "task-1"))

	require.Len(t, changes, 3)

	assert.Equal(t, types.ChangeCreate, changes[0].Kind)
	assert.Nil(t, changes[0].Previous)
	assert.Equal(t, "task", changes[0].Object.Type)

	assert.Equal(t, types.ChangeUpdate, changes[1].Kind)
	assert.Equal(t, "bug", changes[1].Object.Type)
	require.NotNil(t, changes[1].Previous)
	assert.Equal(t, "task", changes[1].Previous.Type)
	assert.Equal(t, float64(1), changes[1].Previous.Attributes["v"])

	assert.Equal(t, types.ChangeDelete, changes[2].Kind)
	assert.Nil(t, changes[2].Object)
	require.NotNil(t, changes[2].Previous)
	assert.Equal(t, "bug", changes[2].Previous.Type)
}

func TestObjects_ObserverErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	boom := errors.New("boom")
	b.Observe(types.ChangeObserverFunc(func(context.Context, types.Change) error { return boom }))

	err := b.PutObject(ctx, &types.Object{Ref: "task-1", Type: "task"})
	assert.ErrorIs(t, err, boom)

	// The write itself is committed.
	_, err = b.GetObject(ctx, "task-1")
	assert.NoError(t, err)
}

func TestObjects_PlannedRequestsCommitWithWrite(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	b.PlanRequests(func(c types.Change) []types.RebuildRequest {
		return []types.RebuildRequest{{Collection: "open_tasks", Ref: c.Ref, ChangesExpected: true}}
	})
	boom := errors.New("boom")
	b.Observe(types.ChangeObserverFunc(func(context.Context, types.Change) error { return boom }))

	// A failing observer does not lose the request: it was queued with the
	// object before commit.
	err := b.PutObject(ctx, &types.Object{Ref: "task-1", Type: "task"})
	assert.ErrorIs(t, err, boom)
	pending, err := b.PendingRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "open_tasks", pending[0].Collection)
	assert.Equal(t, types.Ref("task-1"), pending[0].Ref)
	assert.NotEmpty(t, pending[0].ID)

	assert.ErrorIs(t, b.DeleteObject(ctx, "task-1"), boom)
	depth, err := b.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestObjects_InvalidPlanRollsBackWrite(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.PutObject(ctx, &types.Object{Ref: "task-1", Type: "task", Attributes: map[string]any{"v": 1}}))

	b.PlanRequests(func(types.Change) []types.RebuildRequest {
		return []types.RebuildRequest{{Collection: "not a name"}}
	})

	err := b.PutObject(ctx, &types.Object{Ref: "task-1", Type: "task", Attributes: map[string]any{"v": 2}})
	require.ErrorIs(t, err, types.ErrInvalidDefinition)
	err = b.PutObject(ctx, &types.Object{Ref: "task-2", Type: "task"})
	require.ErrorIs(t, err, types.ErrInvalidDefinition)
	require.ErrorIs(t, b.DeleteObject(ctx, "task-1"), types.ErrInvalidDefinition)

	// Neither the objects nor any request were written.
	got, err := b.GetObject(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got.Attributes["v"])
	_, err = b.GetObject(ctx, "task-2")
	assert.ErrorIs(t, err, types.ErrObjectNotFound)
	depth, err := b.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	// Clearing the planner restores plain writes.
	b.PlanRequests(nil)
	require.NoError(t, b.PutObject(ctx, &types.Object{Ref: "task-2", Type: "task"}))
}

func TestObjects_ImportExport(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	dir := t.TempDir()

	in := filepath.Join(dir, "objects.jsonl")
	content := `{"ref":"task-1","type":"task","attributes":{"title":"A"}}

not json
{"ref":"","type":"task"}
{"ref":"task-2","type":"task","attributes":{"title":"B"}}
`
	require.NoError(t, os.WriteFile(in, []byte(content), 0o644))

	var seen int
	b.Observe(types.ChangeObserverFunc(func(context.Context, types.Change) error {
		seen++
		return nil
	}))

	res, err := b.ImportObjects(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Imported: 2, Skipped: 2}, res)
	assert.Equal(t, 2, seen)

	out := filepath.Join(dir, "export.jsonl")
	n, err := b.ExportObjects(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	other := setupBackend(t)
	res, err = other.ImportObjects(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)

	got, err := other.GetObject(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, "B", got.Attributes["title"])
}
