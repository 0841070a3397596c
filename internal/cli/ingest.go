package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/checkpoint"
	"github.com/toolharbor/toolharbor/pkg/orchestrator"
)

// newIngestCmd creates the "ingest" command: queue the given targets and
// run the worker pool until the queue drains.
func newIngestCmd(configPath *string) *cobra.Command {
	var (
		refresh bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "ingest [target...]",
		Short: "Harvest, analyze, and score the given targets",
		Long: `Ingest queues the given targets and processes them with the worker pool.

Targets can be GitHub URLs (https://github.com/owner/repo), registry
package names (npm://name or a bare name), container image references
(oci://host/repo:tag), or live endpoint URLs; the channel is detected
from the identifier's shape. Without arguments, ingest resumes whatever
is already pending in the checkpoint queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := loggerFromContext(ctx)

			a, err := newApp(ctx, *configPath, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			targets := make([]catalog.Target, 0, len(args))
			for _, arg := range args {
				targets = append(targets, catalog.Target{CanonicalID: arg})
			}
			if err := a.orchestrator.Enqueue(ctx, targets, refresh); err != nil {
				return err
			}
			if len(targets) > 0 {
				logger.Info("queued targets", "count", len(targets), "refresh", refresh)
			}

			if workers <= 0 {
				workers = a.cfg.Pool.Workers
			}
			prog := newProgress(logger)
			pool := orchestrator.NewPool(a.orchestrator, workers)
			if err := pool.Run(ctx); err != nil {
				return err
			}

			counts, err := a.checkpoints.Counts(ctx)
			if err != nil {
				return err
			}
			prog.done(fmt.Sprintf("Queue drained: %d completed, %d skipped, %d failed",
				counts[checkpoint.StateCompleted],
				counts[checkpoint.StateSkipped],
				counts[checkpoint.StateFailed]))
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-ingest completed and failed targets")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent workers (default from config)")
	return cmd
}
