package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/facts/internal/dashboard"
)

// collectionView is one line of `facts collections`.
type collectionView struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version"`
	Types       []string  `json:"types,omitempty"`
	Facts       int       `json:"facts"`
	Rebuilding  bool      `json:"rebuilding"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newCollectionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "Sync and list collection definitions",
		Long: `Load the collection definitions, create or migrate their fact tables,
and list them. Collections whose definition changed since the last sync
get a full rebuild request and are marked as rebuilding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			stored, err := s.store.StoredCollections(cmd.Context())
			if err != nil {
				return sysError(err)
			}
			updated := make(map[string]time.Time, len(stored))
			for _, info := range stored {
				updated[info.Name] = info.UpdatedAt
			}

			views := make([]collectionView, 0, len(s.set.Collections))
			for _, c := range s.set.Collections {
				views = append(views, collectionView{
					Name:        c.Name(),
					Description: c.Description(),
					Version:     c.Version(),
					Types:       c.ObjectTypes(),
					Facts:       len(c.Facts()),
					Rebuilding:  slices.Contains(s.installed, c.Name()),
					UpdatedAt:   updated[c.Name()],
				})
			}

			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No collections defined in", a.settings.CollectionsFile)
				return nil
			}
			rows := make([][]string, len(views))
			for i, v := range views {
				types := strings.Join(v.Types, ",")
				if types == "" {
					types = dashboard.Missing
				}
				rows[i] = []string{v.Name, v.Version, types, strconv.Itoa(v.Facts), strconv.FormatBool(v.Rebuilding), v.Description}
			}
			return dashboard.Render(cmd.OutOrStdout(),
				[]string{"name", "version", "types", "facts", "rebuilding", "description"}, rows)
		},
	}
}
