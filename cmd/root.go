// Package cmd defines and implements the CLI commands for the hellowork-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hellowork-crawler/internal/app"
	"github.com/JakeFAU/hellowork-crawler/internal/config"
	"github.com/JakeFAU/hellowork-crawler/internal/crawl"
	"github.com/JakeFAU/hellowork-crawler/internal/deadletter"
	"github.com/JakeFAU/hellowork-crawler/internal/dispatcher"
	"github.com/JakeFAU/hellowork-crawler/internal/etl"
	"github.com/JakeFAU/hellowork-crawler/internal/logging"
	"github.com/JakeFAU/hellowork-crawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	CrawlRunner(ctx context.Context) (*crawl.Runner, error)
	Orchestrator() (*etl.Orchestrator, error)
	Dispatcher(ctx context.Context) (*dispatcher.Dispatcher, error)
	Inspector(ctx context.Context) (*deadletter.Inspector, error)
	Server(ctx context.Context) *server.Server
}

// newApp is the application factory. It's a variable so tests can swap in an app built over fakes.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "hellowork-crawler",
		Short: "Queue-driven ETL crawler for the Hello Work job site.",
		Long: `hellowork-crawler walks the Hello Work job search through a real browser,
enqueues every job number it finds, and runs one extract-transform-load per
job number from the queue. Failed messages are retried and dead-lettered;
the inspect command reports on the dead letters.`,
		SilenceUsage: true,

		// Build the application once flags are parsed and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(
		newCrawlCmd(),
		newWorkCmd(),
		newETLCmd(),
		newInspectCmd(),
		newScheduleCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
