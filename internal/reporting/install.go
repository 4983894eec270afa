package reporting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/facts/pkg/types"
)

// Install registers colls with the store and the registry. Collections that
// are new or whose definition changed get a full rebuild request. It
// returns the names of those collections.
func Install(ctx context.Context, store Store, registry *Registry, colls []types.Collection, rules []types.UpdateRule, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var changed []string
	for _, c := range colls {
		ok, err := store.EnsureCollection(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("installing collection %s: %w", c.Name(), err)
		}
		if ok {
			changed = append(changed, c.Name())
		}
	}

	registry.Replace(colls, rules)

	if len(changed) == 0 {
		return nil, nil
	}
	reqs := make([]types.RebuildRequest, len(changed))
	for i, name := range changed {
		reqs[i] = types.FullRebuild(name, true)
		logger.Info("collection definition changed", slog.String("collection", name))
	}
	if err := store.Enqueue(ctx, reqs...); err != nil {
		return nil, fmt.Errorf("requesting rebuild of changed collections: %w", err)
	}
	return changed, nil
}
