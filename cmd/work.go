package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// newWorkCmd consumes ETL messages until interrupted.
func newWorkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Consume queue messages and run one ETL per job number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			d, err := appInstance.Dispatcher(cmd.Context())
			if err != nil {
				return fmt.Errorf("build dispatcher: %w", err)
			}
			srv := appInstance.Server(cmd.Context())

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return d.Run(ctx) })
			g.Go(func() error { return srv.Run(ctx) })
			return g.Wait()
		},
	}
}
