package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newInspectCmd drains the dead-letter queue once and files a report.
func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Report on dead-lettered ETL messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			inspector, err := appInstance.Inspector(cmd.Context())
			if err != nil {
				return fmt.Errorf("build inspector: %w", err)
			}
			report, err := inspector.Run(cmd.Context())
			if report == nil {
				if err == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no dead letters")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report %s: %d dead letters", report.ID, len(report.Entries))
			if report.Link != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " %s", report.Link)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return err
		},
	}
}
