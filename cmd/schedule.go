package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/hellowork-crawler/internal/dispatcher"
	"github.com/JakeFAU/hellowork-crawler/internal/schedule"
)

// newScheduleCmd hosts the weekly crawl and the weekday dead-letter inspection.
func newScheduleCmd() *cobra.Command {
	var work, runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run crawl and inspect on their cron schedules",
		Long: `Runs until interrupted, triggering the crawl on schedule.crawl and the dead-letter
inspection on schedule.inspect. With --work the process also consumes the queue,
which is how the in-memory backend is used end to end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			logger := appInstance.Logger()

			sched, err := schedule.New(cfg.Schedule.Timezone, logger)
			if err != nil {
				return err
			}
			runner, err := appInstance.CrawlRunner(cmd.Context())
			if err != nil {
				return fmt.Errorf("build crawl runner: %w", err)
			}
			inspector, err := appInstance.Inspector(cmd.Context())
			if err != nil {
				return fmt.Errorf("build inspector: %w", err)
			}
			if err := sched.Add("crawl", cfg.Schedule.Crawl, func(ctx context.Context) error {
				_, err := runner.Run(ctx)
				return err
			}); err != nil {
				return err
			}
			if err := sched.Add("inspect", cfg.Schedule.Inspect, func(ctx context.Context) error {
				_, err := inspector.Run(ctx)
				return err
			}); err != nil {
				return err
			}

			var d *dispatcher.Dispatcher
			if work {
				if d, err = appInstance.Dispatcher(cmd.Context()); err != nil {
					return fmt.Errorf("build dispatcher: %w", err)
				}
			}
			srv := appInstance.Server(cmd.Context())

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return sched.Run(ctx) })
			g.Go(func() error { return srv.Run(ctx) })
			if d != nil {
				g.Go(func() error { return d.Run(ctx) })
			}
			if runNow {
				g.Go(func() error {
					if err := sched.Trigger(ctx, "crawl"); err != nil {
						logger.Warn("startup crawl failed", zap.Error(err))
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&work, "work", false, "also consume the queue in this process")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run one crawl immediately on startup")
	return cmd
}
