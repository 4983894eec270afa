package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/facts/internal/dashboard"
	"github.com/mesh-intelligence/facts/pkg/types"
)

func newShowCmd(a *app) *cobra.Command {
	var (
		at      string
		ref     string
		history bool
	)
	cmd := &cobra.Command{
		Use:   "show <collection>",
		Short: "Display the fact rows of a collection",
		Long: `Display the rows of a collection valid at a point in time (now by
default). --ref limits the output to one object; --history with --ref
shows every row the object ever had.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if history && ref == "" {
				return fmt.Errorf("--history requires --ref")
			}
			when := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: want RFC3339, got %q", at)
				}
				when = t
			}

			s, err := a.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			coll, err := s.collection(args[0])
			if err != nil {
				return err
			}

			var rows []*types.FactRow
			if history {
				rows, err = s.store.History(cmd.Context(), coll.Name(), types.Ref(ref))
			} else {
				rows, err = s.store.RowsAt(cmd.Context(), coll.Name(), when)
			}
			if err != nil {
				return classify(err)
			}
			if ref != "" && !history {
				rows = filterRef(rows, types.Ref(ref))
			}

			if a.flags.jsonMode {
				if rows == nil {
					rows = []*types.FactRow{}
				}
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No rows in %s\n", coll.Name())
				return nil
			}
			headers, cells := dashboard.FactTable(coll.Facts(), rows, history)
			return dashboard.Render(cmd.OutOrStdout(), headers, cells)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "show rows valid at this RFC3339 time")
	cmd.Flags().StringVar(&ref, "ref", "", "only this object")
	cmd.Flags().BoolVar(&history, "history", false, "every row of --ref, oldest first")
	return cmd
}

func filterRef(rows []*types.FactRow, ref types.Ref) []*types.FactRow {
	var out []*types.FactRow
	for _, r := range rows {
		if r.Ref == ref {
			out = append(out, r)
		}
	}
	return out
}
