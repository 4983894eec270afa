// Package sqlite implements the SQLite storage backend: the object table,
// the rebuild queue, the collection registry and one fact table per
// collection.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/facts/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DatabaseFile is the name of the database file inside DataDir.
const DatabaseFile = "facts.db"

// Compile-time interface check.
var _ types.Store = (*Backend)(nil)

// Backend implements types.Store on a single SQLite database file.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB

	// schemas holds the fact definitions of collections registered through
	// EnsureCollection, keyed by collection name.
	schemas map[string][]types.FactDefinition

	obsMu     sync.Mutex
	observers []types.ChangeObserver
	planner   types.RequestPlanner

	now func() time.Time
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{
		schemas: make(map[string][]types.FactDefinition),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for object timestamps and queue
// entries.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Attach opens DataDir/facts.db, creating the directory if needed, and
// applies pending migrations.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, DatabaseFile))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db, config.EffectiveBusyTimeout()); err != nil {
		db.Close()
		return fmt.Errorf("enable pragmas: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	b.db = db
	b.config = config
	b.schemas = make(map[string][]types.FactDefinition)
	b.attached = true
	return nil
}

// Detach closes the database. After Detach, all operations return
// ErrBackendDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	b.attached = false
	b.schemas = make(map[string][]types.FactDefinition)
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		if err != nil {
			return err
		}
	}
	return nil
}

// Observe registers an observer that is called after every committed object
// mutation, in registration order.
func (b *Backend) Observe(observer types.ChangeObserver) {
	if observer == nil {
		return
	}
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.observers = append(b.observers, observer)
}

// PlanRequests sets the planner consulted by every object mutation. The
// requests it returns are inserted into the rebuild queue in the mutation's
// transaction, so a committed change always has its rebuilds queued. A nil
// planner disables planning.
func (b *Backend) PlanRequests(planner types.RequestPlanner) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.planner = planner
}

// queuePlanned inserts the requests planned for change into tx.
func (b *Backend) queuePlanned(ctx context.Context, tx *sql.Tx, change types.Change) error {
	b.obsMu.Lock()
	planner := b.planner
	b.obsMu.Unlock()
	if planner == nil {
		return nil
	}
	reqs := planner(change)
	if err := validateRequests(reqs); err != nil {
		return fmt.Errorf("planning rebuilds for %s: %w", change.Ref, err)
	}
	return b.insertRequests(ctx, tx, reqs)
}

// notify delivers change to every observer. It must be called without b.mu
// held, since observers usually write back to the queue.
func (b *Backend) notify(ctx context.Context, change types.Change) error {
	b.obsMu.Lock()
	observers := append([]types.ChangeObserver(nil), b.observers...)
	b.obsMu.Unlock()

	var errs []error
	for _, o := range observers {
		if err := o.ObjectChanged(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enablePragmas sets SQLite pragmas for durability and concurrent readers.
func enablePragmas(db *sql.DB, busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// runMigrations applies the embedded goose migrations.
func runMigrations(db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		return err
	}
	return nil
}

// clock returns the configured time source in UTC.
func (b *Backend) clock() time.Time {
	return b.now().UTC()
}
