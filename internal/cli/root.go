// Package cli implements the facts command-line interface: object
// mutations, rebuild requests, one-shot queue drains, fact tables and the
// long-running serve loop.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// Version is stamped at build time with -ldflags -X.
var Version = "dev"

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// sysError marks err as an environment or storage failure.
func sysError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: exitSysError, err: err}
}

// ExitCode maps an error returned by the root command to a process exit
// code. Errors not marked as system failures are user errors.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// NewRootCmd creates the top-level "facts" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "facts",
		Short: "Incrementally maintained fact collections",
		Long: `facts keeps versioned tables of facts derived from source objects.
Object changes queue per-object rebuilds, a daily consistency check queues
full rebuilds, and a single scheduler rewrites only the rows whose facts
changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir, or $FACTS_CONFIG_DIR)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.facts-db)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(
		newVersionCmd(a),
		newInitCmd(a),
		newCollectionsCmd(a),
		newObjectCmd(a),
		newRebuildCmd(a),
		newRunCmd(a),
		newQueueCmd(a),
		newShowCmd(a),
		newServeCmd(a),
	)
	return root
}

// Execute runs the root command against os.Args and returns the exit code.
// SIGINT and SIGTERM cancel the command's context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "facts:", err)
	}
	return ExitCode(err)
}

// isUserError reports whether err stems from bad input rather than the
// environment.
func isUserError(err error) bool {
	for _, target := range []error{
		types.ErrObjectNotFound,
		types.ErrCollectionNotFound,
		types.ErrInvalidRef,
		types.ErrInvalidObject,
		types.ErrInvalidDefinition,
		types.ErrTypeMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classify passes user errors through and marks everything else as a
// system failure.
func classify(err error) error {
	if err == nil || isUserError(err) {
		return err
	}
	return sysError(err)
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sysError(fmt.Errorf("marshal JSON: %w", err))
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
