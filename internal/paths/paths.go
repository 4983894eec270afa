// Package paths resolves where facts keeps its configuration, collection
// definitions and database.
//
// The config directory comes from the --config-dir flag, then FACTS_CONFIG_DIR,
// then the platform config location. The data directory comes from the
// --data-dir flag, then data_dir in config.yaml, then FACTS_DATA_DIR, then
// .facts-db under the working directory.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName = "facts"

	// DefaultDataDirName is created under the working directory when nothing
	// else names a data directory.
	DefaultDataDirName = ".facts-db"

	// ConfigFileName is the viper config file inside the config directory.
	ConfigFileName = "config.yaml"

	// DefaultCollectionsFile holds the collection definitions, relative to
	// the config directory.
	DefaultCollectionsFile = "collections.yaml"
)

const (
	EnvConfigDir = "FACTS_CONFIG_DIR"
	EnvDataDir   = "FACTS_DATA_DIR"
)

// platformDir can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/facts (fallback ~/.config/facts)
// macOS:   ~/Library/Application Support/facts
// Windows: %APPDATA%/facts
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// DefaultDataDir returns the platform data directory. It is not part of the
// ResolveDataDir chain; `facts init --data-dir` can point there explicitly.
//
// Linux:   $XDG_DATA_HOME/facts (fallback ~/.local/share/facts)
// macOS and Windows: same as DefaultConfigDir
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	}
	return DefaultConfigDir()
}

func xdgDir(env, fallback string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, appName), nil
}

// ResolveConfigDir applies flag > FACTS_CONFIG_DIR > DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir applies flag > config value > FACTS_DATA_DIR > $(CWD)/.facts-db.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, dir := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// ResolveCollectionsFile returns the definitions file path. A relative
// configValue is taken relative to configDir; an empty one names
// DefaultCollectionsFile there.
func ResolveCollectionsFile(configDir, configValue string) string {
	if configValue == "" {
		configValue = DefaultCollectionsFile
	}
	if filepath.IsAbs(configValue) {
		return configValue
	}
	return filepath.Join(configDir, configValue)
}
