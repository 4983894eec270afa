// Shared state and backend wiring for CLI commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/facts/internal/collections"
	"github.com/mesh-intelligence/facts/internal/paths"
	"github.com/mesh-intelligence/facts/internal/reporting"
	"github.com/mesh-intelligence/facts/internal/sqlite"
	"github.com/mesh-intelligence/facts/pkg/types"
)

// app is the per-invocation state shared by all subcommands.
type app struct {
	flags     rootFlags
	configDir string
	settings  *settings
	logger    *slog.Logger
}

// load resolves the config directory, reads config.yaml and builds the
// logger. It runs before every subcommand.
func (a *app) load(cmd *cobra.Command) error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	s, err := loadSettings(configDir)
	if err != nil {
		return err
	}
	a.configDir = configDir
	a.settings = s
	a.logger = newLogger(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat)
	return nil
}

// newLogger builds the process logger writing to w.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == logFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) dataDir() (string, error) {
	dir, err := paths.ResolveDataDir(a.flags.dataDir, a.settings.DataDir)
	if err != nil {
		return "", sysError(fmt.Errorf("resolve data dir: %w", err))
	}
	return dir, nil
}

// attach opens the backend. The caller must Detach it.
func (a *app) attach() (*sqlite.Backend, error) {
	dataDir, err := a.dataDir()
	if err != nil {
		return nil, err
	}
	backend := sqlite.NewBackend()
	if err := backend.Attach(a.settings.storeConfig(dataDir)); err != nil {
		if errors.Is(err, types.ErrBackendUnknown) || errors.Is(err, types.ErrBackendEmpty) {
			return nil, fmt.Errorf("attach backend: %w", err)
		}
		return nil, sysError(fmt.Errorf("attach backend: %w", err))
	}
	return backend, nil
}

// definitions loads the collection definitions file. A missing file yields
// an empty set so that object commands work before any collection exists.
func (a *app) definitions() (*collections.Set, error) {
	set, err := collections.Load(a.settings.CollectionsFile)
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("no collection definitions", slog.String("path", a.settings.CollectionsFile))
		return &collections.Set{}, nil
	}
	return set, err
}

// session is an attached backend with the collection definitions installed
// and the change hook registered.
type session struct {
	store     *sqlite.Backend
	set       *collections.Set
	registry  *reporting.Registry
	scheduler *reporting.Scheduler
	installed []string
}

// openSession attaches the backend, installs the current definitions and
// registers the change hook. wake, if non-nil, is called after the hook
// enqueues requests.
func (a *app) openSession(ctx context.Context, wake func()) (*session, error) {
	set, err := a.definitions()
	if err != nil {
		return nil, err
	}
	store, err := a.attach()
	if err != nil {
		return nil, err
	}

	s := &session{
		store:    store,
		set:      set,
		registry: reporting.NewRegistry(),
	}
	s.installed, err = a.install(ctx, s, set)
	if err != nil {
		store.Detach()
		return nil, classify(err)
	}
	reporting.NewNotifier(s.registry, store, wake, a.logger).Register(store)
	s.scheduler = reporting.NewScheduler(store, s.registry, reporting.NewLogReporter(a.logger), a.logger)
	return s, nil
}

// install makes set the active definitions of s.
func (a *app) install(ctx context.Context, s *session, set *collections.Set) ([]string, error) {
	colls := make([]types.Collection, len(set.Collections))
	for i, c := range set.Collections {
		colls[i] = c
	}
	changed, err := reporting.Install(ctx, s.store, s.registry, colls, set.Rules, a.logger)
	if err != nil {
		return nil, err
	}
	s.set = set
	return changed, nil
}

// collection returns the definition of name from the installed set.
func (s *session) collection(name string) (*collections.Collection, error) {
	for _, c := range s.set.Collections {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
}

func (s *session) Close() error {
	return s.store.Detach()
}
