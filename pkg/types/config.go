package types

import (
	"errors"
	"time"
)

// Config selects the storage backend passed to Store.Attach.
type Config struct {
	Backend string `json:"backend" yaml:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// BusyTimeout is how long a writer waits for a locked database. Zero
	// uses DefaultBusyTimeout.
	BusyTimeout time.Duration `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// DefaultBusyTimeout applies when Config.BusyTimeout is zero.
const DefaultBusyTimeout = 5 * time.Second

// Config validation errors.
var (
	ErrBackendEmpty        = errors.New("backend must not be empty")
	ErrBackendUnknown      = errors.New("unknown backend")
	ErrNegativeBusyTimeout = errors.New("busy timeout must not be negative")
)

var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.BusyTimeout < 0 {
		return ErrNegativeBusyTimeout
	}
	return nil
}

// EffectiveBusyTimeout returns BusyTimeout, or DefaultBusyTimeout when unset.
func (c Config) EffectiveBusyTimeout() time.Duration {
	if c.BusyTimeout == 0 {
		return DefaultBusyTimeout
	}
	return c.BusyTimeout
}
