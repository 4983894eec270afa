// Config loading for the facts CLI.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/facts/internal/paths"
	"github.com/mesh-intelligence/facts/internal/reporting"
	"github.com/mesh-intelligence/facts/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	cfgKeyBackend         = "backend"
	cfgKeyDataDir         = "data_dir"
	cfgKeyCollectionsFile = "collections_file"
	cfgKeyDailyCheck      = "daily_check"
	cfgKeyRetryDelay      = "retry_delay"
	cfgKeyBusyTimeout     = "busy_timeout"
	cfgKeyLogLevel        = "log_level"
	cfgKeyLogFormat       = "log_format"

	logFormatText = "text"
	logFormatJSON = "json"
)

// defaultConfigYAML is written to config.yaml by `facts init`.
const defaultConfigYAML = `# facts configuration

# Storage backend.
backend: sqlite

# Data directory (optional; overridden by --data-dir).
# data_dir: .facts-db

# Collection definitions, relative to this directory.
collections_file: collections.yaml

# Local time of the daily consistency check (HH:MM).
daily_check: "03:00"

# Wait after a failed rebuild batch before retrying.
retry_delay: 30s

# How long a writer waits for a locked database.
busy_timeout: 5s

# debug, info, warn or error; text or json. FACTS_LOG_LEVEL and
# FACTS_LOG_FORMAT override these.
log_level: info
log_format: text
`

// settings is the validated content of config.yaml.
type settings struct {
	Backend         string
	DataDir         string
	CollectionsFile string
	DailyCheck      reporting.TimeOfDay
	RetryDelay      time.Duration
	BusyTimeout     time.Duration
	LogLevel        slog.Level
	LogFormat       string
}

// loadSettings reads config.yaml from configDir. A missing file yields the
// defaults.
func loadSettings(configDir string) (*settings, error) {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyCollectionsFile, paths.DefaultCollectionsFile)
	v.SetDefault(cfgKeyDailyCheck, reporting.DefaultCheckTime.String())
	v.SetDefault(cfgKeyRetryDelay, reporting.DefaultRetryDelay)
	v.SetDefault(cfgKeyBusyTimeout, types.DefaultBusyTimeout)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyLogFormat, logFormatText)

	// Only logging follows the environment; FACTS_DATA_DIR ranks below
	// data_dir and is resolved by paths.
	v.SetEnvPrefix("FACTS")
	_ = v.BindEnv(cfgKeyLogLevel)
	_ = v.BindEnv(cfgKeyLogFormat)

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	s := &settings{
		Backend:         v.GetString(cfgKeyBackend),
		DataDir:         v.GetString(cfgKeyDataDir),
		CollectionsFile: paths.ResolveCollectionsFile(configDir, v.GetString(cfgKeyCollectionsFile)),
		RetryDelay:      v.GetDuration(cfgKeyRetryDelay),
		BusyTimeout:     v.GetDuration(cfgKeyBusyTimeout),
		LogFormat:       strings.ToLower(v.GetString(cfgKeyLogFormat)),
	}

	at, err := reporting.ParseTimeOfDay(v.GetString(cfgKeyDailyCheck))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgKeyDailyCheck, err)
	}
	s.DailyCheck = at

	if err := s.LogLevel.UnmarshalText([]byte(v.GetString(cfgKeyLogLevel))); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgKeyLogLevel, err)
	}
	if s.LogFormat != logFormatText && s.LogFormat != logFormatJSON {
		return nil, fmt.Errorf("config %s: want %q or %q, got %q", cfgKeyLogFormat, logFormatText, logFormatJSON, s.LogFormat)
	}
	if s.RetryDelay <= 0 {
		return nil, fmt.Errorf("config %s: must be positive", cfgKeyRetryDelay)
	}
	return s, nil
}

// storeConfig builds the backend config for dataDir.
func (s *settings) storeConfig(dataDir string) types.Config {
	return types.Config{
		Backend:     s.Backend,
		DataDir:     dataDir,
		BusyTimeout: s.BusyTimeout,
	}
}

// writeFileIfMissing creates path with content unless it already exists.
// It reports whether the file was written.
func writeFileIfMissing(path, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	return true, os.WriteFile(path, []byte(content), 0o644)
}
