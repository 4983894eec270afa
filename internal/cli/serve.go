package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/facts/internal/collections"
	"github.com/mesh-intelligence/facts/internal/reporting"
)

func newServeCmd(a *app) *cobra.Command {
	var checkNow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep collections up to date until interrupted",
		Long: `Run the rebuild worker, the daily consistency check and the
collection definitions watcher. Definition edits are installed as soon as
they are saved: a running batch is stopped first, then restarted with the
new definitions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// The worker exists before the session so the change hook can wake it.
			var worker *reporting.Worker
			wake := func() {
				if worker != nil {
					worker.Wake()
				}
			}
			s, err := a.openSession(ctx, wake)
			if err != nil {
				return err
			}
			defer s.Close()
			worker = reporting.NewWorker(s.scheduler, a.settings.RetryDelay, a.logger)

			daily := reporting.NewDailyCheck(a.settings.DailyCheck, s.registry, s.store, worker.Wake, a.logger)
			watcher := collections.NewWatcher(a.settings.CollectionsFile, a.logger, func(set *collections.Set) error {
				var changed []string
				err := s.scheduler.Reconfigure(func() error {
					var err error
					changed, err = a.install(ctx, s, set)
					return err
				})
				if err != nil {
					return err
				}
				a.logger.Info("collection definitions installed",
					slog.Int("collections", len(set.Collections)),
					slog.Int("changed", len(changed)))
				worker.Wake()
				return nil
			})

			if checkNow {
				if _, err := daily.Trigger(ctx); err != nil {
					return sysError(err)
				}
			}

			a.logger.Info("serving",
				slog.String("collections_file", a.settings.CollectionsFile),
				slog.String("daily_check", a.settings.DailyCheck.String()),
				slog.Time("next_check", a.settings.DailyCheck.Next(time.Now())))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return worker.Run(gctx) })
			g.Go(func() error { return daily.Run(gctx) })
			g.Go(func() error { return watcher.Run(gctx) })
			if err := g.Wait(); err != nil {
				return sysError(err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkNow, "check-now", false, "request a consistency check on start")
	return cmd
}
