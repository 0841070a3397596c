package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolharbor/toolharbor/pkg/checkpoint"
)

// newStatusCmd creates the "status" command: print checkpoint queue
// progress and catalog size.
func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint queue progress and catalog size",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			a, err := newApp(ctx, *configPath, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			counts, err := a.checkpoints.Counts(ctx)
			if err != nil {
				return err
			}
			total, err := a.packages.CountPackages(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "packages: %d\n", total)
			for _, state := range []checkpoint.State{
				checkpoint.StatePending,
				checkpoint.StateProcessing,
				checkpoint.StateCompleted,
				checkpoint.StateFailed,
				checkpoint.StateSkipped,
			} {
				fmt.Fprintf(out, "%-12s %d\n", state, counts[state])
			}
			return nil
		},
	}
}
