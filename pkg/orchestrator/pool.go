package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/toolharbor/toolharbor/pkg/checkpoint"
	"github.com/toolharbor/toolharbor/pkg/errors"
)

// Pool drains the checkpoint queue with a bounded set of workers. Run
// returns when every checkpoint is terminal or the context is cancelled;
// per-target failures are recorded on their checkpoints, never bubbled
// out of the pool.
type Pool struct {
	Orchestrator *Orchestrator
	Workers      int

	// PollInterval is the wait between queue sweeps when pending targets
	// exist but none are claimable yet (all backing off).
	PollInterval time.Duration
}

// NewPool creates a pool with the given worker count.
func NewPool(o *Orchestrator, workers int) *Pool {
	if workers <= 0 {
		workers = 10
	}
	return &Pool{
		Orchestrator: o,
		Workers:      workers,
		PollInterval: time.Second,
	}
}

// Run processes the queue until it drains. Each claimed target runs the
// full pipeline on one of the pool's workers.
func (p *Pool) Run(ctx context.Context) error {
	o := p.Orchestrator
	worker := "pool-" + uuid.NewString()[:8]

	for {
		targets, err := o.Checkpoints.NextPending(ctx, p.Workers*2)
		if err != nil {
			return err
		}

		if len(targets) == 0 {
			done, err := p.drained(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			// Pending targets exist but are backing off or held by
			// other workers; wait for the next sweep.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.PollInterval):
				continue
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.Workers)
		for _, target := range targets {
			g.Go(func() error {
				_, err := o.Ingest(gctx, target, worker)
				switch {
				case err == nil:
					return nil
				case errors.Is(err, errors.ErrCodeAlreadyProcessing):
					return nil // another worker won the claim
				case gctx.Err() != nil:
					return gctx.Err()
				default:
					return nil // recorded on the checkpoint
				}
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// drained reports whether no pending or processing checkpoints remain.
func (p *Pool) drained(ctx context.Context) (bool, error) {
	counts, err := p.Orchestrator.Checkpoints.Counts(ctx)
	if err != nil {
		return false, err
	}
	return counts[checkpoint.StatePending] == 0 && counts[checkpoint.StateProcessing] == 0, nil
}
