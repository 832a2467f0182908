package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
)

// newETLCmd runs one ETL synchronously, bypassing the queue.
func newETLCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "etl <job-number>",
		Short:   "Extract, transform and load a single job number",
		Example: `  hellowork-crawler etl 13010-12345678`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := job.ParseNumber(args[0])
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			orch, err := appInstance.Orchestrator()
			if err != nil {
				return fmt.Errorf("build orchestrator: %w", err)
			}
			res, runErr := orch.Run(cmd.Context(), n)
			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			if err := out.Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return runErr
		},
	}
}
