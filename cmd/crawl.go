package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCrawlCmd runs one listing crawl and enqueues every job number found.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Search the listing and enqueue every job number",
		Long: `Runs the configured criteria search once, walks the result pages up to
crawl.rough_max_count and enqueues one ETL message per job number.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runner, err := appInstance.CrawlRunner(cmd.Context())
			if err != nil {
				return fmt.Errorf("build crawl runner: %w", err)
			}
			res, err := runner.Run(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "pages=%d discovered=%d enqueued=%d failed=%d\n",
				res.Pages, res.Discovered, res.Enqueued, res.Failed)
			return err
		},
	}
}
