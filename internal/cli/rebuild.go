package cli

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/facts/internal/dashboard"
	"github.com/mesh-intelligence/facts/internal/reporting"
	"github.com/mesh-intelligence/facts/pkg/types"
)

func newRebuildCmd(a *app) *cobra.Command {
	var (
		ref         string
		notExpected bool
	)
	cmd := &cobra.Command{
		Use:   "rebuild [collection...]",
		Short: "Request rebuilds",
		Long: `Queue a full rebuild of the named collections, or of every collection
when none is named. With --ref only that object is rebuilt. With
--not-expected the request is a consistency check: any row it writes
raises a health alert.

Requests are processed by "facts run" or a running "facts serve".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			names := args
			if len(names) == 0 {
				names = s.set.Names()
			}
			reqs := make([]types.RebuildRequest, 0, len(names))
			for _, name := range names {
				if _, ok := s.registry.Collection(name); !ok {
					return fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
				}
				req := types.FullRebuild(name, !notExpected)
				if ref != "" {
					req.Ref = types.Ref(ref)
					if err := req.Ref.Validate(); err != nil {
						return fmt.Errorf("--ref %q: %w", ref, err)
					}
				}
				reqs = append(reqs, req)
			}
			if len(reqs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No collections to rebuild")
				return nil
			}
			if err := s.store.Enqueue(cmd.Context(), reqs...); err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), reqs)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d rebuild requests\n", len(reqs))
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "rebuild only this object")
	cmd.Flags().BoolVar(&notExpected, "not-expected", false, "alert on any row change (consistency check)")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process the rebuild queue once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := s.scheduler.RunSafely(cmd.Context())
			if err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			return printSummary(cmd, summary)
		},
	}
}

func printSummary(cmd *cobra.Command, summary reporting.Summary) error {
	out := cmd.OutOrStdout()
	if summary.Requests == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return nil
	}
	fmt.Fprintf(out, "Processed %d requests (%d full, %d per-object, %d skipped) in %s\n",
		summary.Requests, summary.FullRebuilds, summary.ObjectRebuilds, summary.Skipped,
		summary.Duration.Round(time.Millisecond))
	if summary.Alerts > 0 {
		fmt.Fprintf(out, "Raised %d health alerts\n", summary.Alerts)
	}
	if len(summary.Collections) == 0 {
		return nil
	}

	names := make([]string, 0, len(summary.Collections))
	for name := range summary.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, len(names))
	for i, name := range names {
		st := summary.Collections[name]
		rows[i] = []string{
			name,
			strconv.FormatBool(st.FullRebuild),
			strconv.Itoa(st.Objects),
			strconv.Itoa(st.RowsWritten),
			strconv.Itoa(st.RowsClosed),
			strconv.Itoa(st.Unchanged),
		}
	}
	fmt.Fprintln(out)
	return dashboard.Render(out, []string{"collection", "full", "objects", "written", "closed", "unchanged"}, rows)
}

func newQueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List pending rebuild requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.attach()
			if err != nil {
				return err
			}
			defer backend.Detach()

			pending, err := backend.PendingRequests(cmd.Context())
			if err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				if pending == nil {
					pending = []types.RebuildRequest{}
				}
				return writeJSON(cmd.OutOrStdout(), pending)
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			rows := make([][]string, len(pending))
			for i, r := range pending {
				target := string(r.Ref)
				if r.IsFull() {
					target = "(all)"
				}
				rows[i] = []string{r.ID, r.Collection, target, strconv.FormatBool(r.ChangesExpected), r.RequestedAt.Format(time.RFC3339)}
			}
			return dashboard.Render(cmd.OutOrStdout(), []string{"id", "collection", "ref", "expected", "requested_at"}, rows)
		},
	}
}
