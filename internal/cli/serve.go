package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/toolharbor/toolharbor/pkg/orchestrator"
	"github.com/toolharbor/toolharbor/pkg/server"
)

// newServeCmd creates the "serve" command: run the worker pool and the
// status API together until interrupted.
func newServeCmd(configPath *string) *cobra.Command {
	var (
		addr    string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool and the catalog status API",
		Long: `Serve runs the harvester as a daemon: the worker pool keeps draining
the checkpoint queue while the HTTP API reports queue state, lists
packages, and returns per-package detail including capabilities,
dependencies, and analysis findings. The API is read-only; targets are
queued by the ingest command against the same store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := loggerFromContext(ctx)

			a, err := newApp(ctx, *configPath, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			if workers <= 0 {
				workers = a.cfg.Pool.Workers
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				srv := server.New(a.checkpoints, a.packages, logger)
				return srv.ListenAndServe(gctx, addr)
			})
			g.Go(func() error {
				// Pool.Run returns once the queue drains; as a daemon we
				// sweep again for targets queued after the drain.
				pool := orchestrator.NewPool(a.orchestrator, workers)
				for {
					if err := pool.Run(gctx); err != nil {
						return err
					}
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(pool.PollInterval):
					}
				}
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent workers (default from config)")
	return cmd
}
