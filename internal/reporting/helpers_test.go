package reporting

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/facts/internal/collections"
	"github.com/mesh-intelligence/facts/internal/sqlite"
	"github.com/mesh-intelligence/facts/pkg/types"
)

const taskDefinitions = `collections:
  - name: open_tasks
    types: [task]
    where: 'status != "done"'
    facts:
      - {name: title, type: text, path: title}
      - {name: assignee, type: ref, path: assignee}
      - {name: due, type: date, path: due}
    rules:
      - {type: comment, follow: task}
  - name: people
    types: [user]
    facts:
      - {name: name, type: text, path: name}
`

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// harness wires a real SQLite backend to a registry, scheduler and change
// hook, with a controllable clock and recorded alerts.
type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *sqlite.Backend
	registry *Registry
	sched    *Scheduler
	notifier *Notifier

	mu     sync.Mutex
	now    time.Time
	alerts []Alert
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), now: epoch}

	h.store = sqlite.NewBackend()
	require.NoError(t, h.store.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { h.store.Detach() })

	h.registry = NewRegistry()
	reporter := HealthReporterFunc(func(_ context.Context, a Alert) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.alerts = append(h.alerts, a)
	})
	h.sched = NewScheduler(h.store, h.registry, reporter, discardLogger())
	h.sched.SetClock(h.clock)
	h.notifier = NewNotifier(h.registry, h.store, nil, discardLogger())
	h.notifier.Register(h.store)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
	return h.now
}

func (h *harness) recordedAlerts() []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Alert(nil), h.alerts...)
}

// install compiles definitions and installs them, queueing full rebuilds of
// new collections.
func (h *harness) install(definitions string) []string {
	h.t.Helper()
	set, err := collections.Parse([]byte(definitions))
	require.NoError(h.t, err)
	colls := make([]types.Collection, len(set.Collections))
	for i, c := range set.Collections {
		colls[i] = c
	}
	changed, err := Install(h.ctx, h.store, h.registry, colls, set.Rules, discardLogger())
	require.NoError(h.t, err)
	return changed
}

func (h *harness) put(ref, objType string, attrs map[string]any) {
	h.t.Helper()
	require.NoError(h.t, h.store.PutObject(h.ctx, &types.Object{Ref: types.Ref(ref), Type: objType, Attributes: attrs}))
}

func (h *harness) run() Summary {
	h.t.Helper()
	summary, err := h.sched.Run(h.ctx)
	require.NoError(h.t, err)
	return summary
}

func (h *harness) queueDepth() int {
	h.t.Helper()
	n, err := h.store.QueueDepth(h.ctx)
	require.NoError(h.t, err)
	return n
}

func (h *harness) openRow(collection, ref string) *types.FactRow {
	h.t.Helper()
	row, err := h.store.OpenRow(h.ctx, collection, types.Ref(ref))
	require.NoError(h.t, err)
	return row
}

func (h *harness) history(collection, ref string) []*types.FactRow {
	h.t.Helper()
	rows, err := h.store.History(h.ctx, collection, types.Ref(ref))
	require.NoError(h.t, err)
	return rows
}

// funcCollection is a collection whose behavior is supplied by the test.
type funcCollection struct {
	name    string
	facts   []types.FactDefinition
	compute func(ctx context.Context, obj *types.Object) (types.Facts, error)
}

func (c *funcCollection) Name() string                  { return c.name }
func (c *funcCollection) Version() string               { return "test" }
func (c *funcCollection) Facts() []types.FactDefinition { return c.facts }

func (c *funcCollection) Includes(obj *types.Object) (bool, error) {
	return obj.Type == "task", nil
}

func (c *funcCollection) Find(ctx context.Context, store types.ObjectStore) ([]*types.Object, error) {
	return store.FindObjects(ctx, []string{"task"})
}

func (c *funcCollection) Compute(ctx context.Context, obj *types.Object) (types.Facts, error) {
	return c.compute(ctx, obj)
}

func (h *harness) installFunc(coll *funcCollection) {
	h.t.Helper()
	_, err := Install(h.ctx, h.store, h.registry, []types.Collection{coll},
		[]types.UpdateRule{{ObjectType: "task", Collection: coll.name}}, discardLogger())
	require.NoError(h.t, err)
}
