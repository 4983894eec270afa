// Object commands. Every mutation goes through the backend's change hook,
// so the affected collections get rebuild requests.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/facts/internal/dashboard"
	"github.com/mesh-intelligence/facts/pkg/types"
)

func newObjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Create, inspect and delete source objects",
	}
	cmd.AddCommand(
		newObjectPutCmd(a),
		newObjectGetCmd(a),
		newObjectDeleteCmd(a),
		newObjectListCmd(a),
		newObjectImportCmd(a),
		newObjectExportCmd(a),
	)
	return cmd
}

func newObjectPutCmd(a *app) *cobra.Command {
	var (
		objType string
		data    string
	)
	cmd := &cobra.Command{
		Use:   "put <ref>",
		Short: "Create or replace an object",
		Long: `Create or replace an object. Attributes are a JSON object given with
--data, or read from stdin when --data is "-".

Example:
  facts object put task-1 --type task --data '{"title":"Write docs","status":"open"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(data)
			if data == "-" {
				var err error
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return sysError(fmt.Errorf("read stdin: %w", err))
				}
			}
			attrs := map[string]any{}
			if len(strings.TrimSpace(string(raw))) > 0 {
				if err := json.Unmarshal(raw, &attrs); err != nil {
					return fmt.Errorf("%w: attributes must be a JSON object: %v", types.ErrInvalidObject, err)
				}
			}

			s, err := a.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			obj := &types.Object{Ref: types.Ref(args[0]), Type: objType, Attributes: attrs}
			if err := s.store.PutObject(cmd.Context(), obj); err != nil {
				return classify(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), obj)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s)\n", obj.Ref, obj.Type)
			return nil
		},
	}
	cmd.Flags().StringVar(&objType, "type", "", "object type (required)")
	cmd.Flags().StringVar(&data, "data", "{}", `attributes as a JSON object, or "-" for stdin`)
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newObjectGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <ref>",
		Short: "Print an object as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.attach()
			if err != nil {
				return err
			}
			defer backend.Detach()

			obj, err := backend.GetObject(cmd.Context(), types.Ref(args[0]))
			if err != nil {
				return classify(err)
			}
			return writeJSON(cmd.OutOrStdout(), obj)
		},
	}
}

func newObjectDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <ref>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.DeleteObject(cmd.Context(), types.Ref(args[0])); err != nil {
				return classify(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newObjectListCmd(a *app) *cobra.Command {
	var objTypes []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List objects, optionally by type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.attach()
			if err != nil {
				return err
			}
			defer backend.Detach()

			objs, err := backend.FindObjects(cmd.Context(), objTypes)
			if err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				if objs == nil {
					objs = []*types.Object{}
				}
				return writeJSON(cmd.OutOrStdout(), objs)
			}
			rows := make([][]string, len(objs))
			for i, o := range objs {
				attrs, _ := json.Marshal(o.Attributes)
				rows[i] = []string{string(o.Ref), o.Type, o.UpdatedAt.Format(time.RFC3339), string(attrs)}
			}
			return dashboard.Render(cmd.OutOrStdout(), []string{"ref", "type", "updated_at", "attributes"}, rows)
		},
	}
	cmd.Flags().StringSliceVar(&objTypes, "type", nil, "only objects of these types")
	return cmd
}

func newObjectImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Import objects from a JSONL file",
		Long: `Store one object per line of a JSONL file. Each line is an object
{"ref": ..., "type": ..., "attributes": {...}}. Malformed lines are
skipped and counted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.store.ImportObjects(cmd.Context(), args[0])
			if err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d objects (%d skipped)\n", res.Imported, res.Skipped)
			return nil
		},
	}
}

func newObjectExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.jsonl>",
		Short: "Export every object to a JSONL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.attach()
			if err != nil {
				return err
			}
			defer backend.Detach()

			n, err := backend.ExportObjects(cmd.Context(), args[0])
			if err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"exported": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d objects to %s\n", n, args[0])
			return nil
		},
	}
}
