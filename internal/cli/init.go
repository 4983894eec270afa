package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/facts/internal/collections"
	"github.com/mesh-intelligence/facts/internal/paths"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration, definitions and storage",
		Long: `Create the configuration directory with a default config.yaml and an
example collections.yaml, then create and migrate the database. Existing
files are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(a.configDir, 0o755); err != nil {
				return sysError(fmt.Errorf("create config directory: %w", err))
			}
			configPath := filepath.Join(a.configDir, paths.ConfigFileName)
			if _, err := writeFileIfMissing(configPath, defaultConfigYAML); err != nil {
				return sysError(fmt.Errorf("write config: %w", err))
			}
			// config.yaml may have been created just now.
			if err := a.load(cmd); err != nil {
				return err
			}
			if _, err := writeFileIfMissing(a.settings.CollectionsFile, collections.ExampleDefinitions); err != nil {
				return sysError(fmt.Errorf("write collection definitions: %w", err))
			}

			backend, err := a.attach()
			if err != nil {
				return err
			}
			if err := backend.Detach(); err != nil {
				return sysError(fmt.Errorf("finalize storage: %w", err))
			}

			dataDir, err := a.dataDir()
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"config":      a.configDir,
					"collections": a.settings.CollectionsFile,
					"data":        dataDir,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "facts initialized")
			fmt.Fprintln(out, "  config:     ", a.configDir)
			fmt.Fprintln(out, "  collections:", a.settings.CollectionsFile)
			fmt.Fprintln(out, "  data:       ", dataDir)
			return nil
		},
	}
}
