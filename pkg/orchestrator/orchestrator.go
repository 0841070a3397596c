// Package orchestrator drives the ingestion pipeline: claim a
// checkpoint, fetch and parse through the channel adapter, normalize
// dependencies and analyze sources concurrently, score, persist, and
// record the outcome on the checkpoint. Every failure path lands in
// exactly one checkpoint transition so a crashed run resumes where it
// stopped.
package orchestrator

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/toolharbor/toolharbor/pkg/adapters"
	"github.com/toolharbor/toolharbor/pkg/analysis"
	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/checkpoint"
	"github.com/toolharbor/toolharbor/pkg/depgraph"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/httputil"
	"github.com/toolharbor/toolharbor/pkg/observability"
	"github.com/toolharbor/toolharbor/pkg/scoring"
	"github.com/toolharbor/toolharbor/pkg/store"
)

// Orchestrator runs the pipeline for individual targets. It is stateless
// between calls; all progress lives in the checkpoint store.
type Orchestrator struct {
	Registry    *adapters.Registry
	Checkpoints checkpoint.Store
	Store       store.Store
	Analyzer    *analysis.Analyzer
	Scorer      *scoring.Engine
	Logger      *log.Logger

	// Backoff and MaxAttempts shape the requeue policy for retryable
	// failures.
	Backoff     httputil.Backoff
	MaxAttempts int

	// StaleClaimAfter is how long a processing claim survives before
	// another worker may take it over.
	StaleClaimAfter time.Duration

	now func() time.Time
}

// New fills defaults on an Orchestrator. The registry, checkpoint store,
// and catalog store are required; everything else has a usable default.
func New(o Orchestrator) *Orchestrator {
	if o.Analyzer == nil {
		o.Analyzer = analysis.NewAnalyzer()
	}
	if o.Scorer == nil {
		o.Scorer = scoring.New(nil)
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Backoff == (httputil.Backoff{}) {
		o.Backoff = httputil.DefaultBackoff
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.StaleClaimAfter <= 0 {
		o.StaleClaimAfter = 10 * time.Minute
	}
	if o.now == nil {
		o.now = time.Now
	}
	return &o
}

// Enqueue normalizes and queues targets for ingestion. With refresh,
// completed and failed targets are re-queued with a fresh attempt
// budget; skipped targets stay excluded.
func (o *Orchestrator) Enqueue(ctx context.Context, targets []catalog.Target, refresh bool) error {
	for _, t := range targets {
		t.CanonicalID = catalog.NormalizeID(t.CanonicalID)
		if t.CanonicalID == "" {
			return errors.New(errors.ErrCodeInvalidTarget, "empty target identifier")
		}
		if err := o.Checkpoints.Enqueue(ctx, t, refresh); err != nil {
			return err
		}
	}
	return nil
}

// Ingest runs the full pipeline for one target under the given worker
// identity. The returned detail is what was persisted; on failure the
// checkpoint records the outcome and the error is returned.
func (o *Orchestrator) Ingest(ctx context.Context, target catalog.Target, worker string) (*store.PackageDetail, error) {
	target.CanonicalID = catalog.NormalizeID(target.CanonicalID)
	id := target.CanonicalID

	cp, err := o.Checkpoints.Claim(ctx, id, worker, o.StaleClaimAfter)
	if err != nil {
		return nil, err
	}
	observability.Ingest().OnClaim(ctx, id, worker)
	o.Logger.Debug("claimed target", "id", id, "worker", worker, "attempt", cp.Attempts+1)

	start := o.now()
	detail, err := o.run(ctx, target)
	observability.Ingest().OnComplete(ctx, id, o.now().Sub(start), err)
	if err != nil {
		return nil, o.dispatchFailure(ctx, cp, err)
	}

	if err := o.Checkpoints.MarkCompleted(ctx, id); err != nil {
		return nil, err
	}
	observability.Ingest().OnTransition(ctx, id, string(checkpoint.StateProcessing), string(checkpoint.StateCompleted))
	o.Logger.Info("ingested package",
		"id", id,
		"risk", detail.Record.RiskLevel,
		"health", detail.Record.HealthScore,
		"capabilities", len(detail.Capabilities),
		"dependencies", len(detail.Dependencies),
		"duration", o.now().Sub(start).Round(time.Millisecond))
	return detail, nil
}

// run executes fetch → parse → (normalize ∥ analyze) → score → persist.
func (o *Orchestrator) run(ctx context.Context, target catalog.Target) (*store.PackageDetail, error) {
	adapter, err := o.Registry.Resolve(target)
	if err != nil {
		return nil, err
	}

	raw, err := adapter.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	parsed, err := adapter.Parse(ctx, raw)
	if err != nil {
		return nil, err
	}

	// Dependency normalization and security analysis share no state, so
	// they run concurrently per target.
	var (
		edges       []catalog.DependencyEdge
		depWarnings []string
		report      analysis.Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		edges, depWarnings = depgraph.Extract(parsed.Manifests)
		return gctx.Err()
	})
	g.Go(func() error {
		report = o.Analyzer.Analyze(parsed.Sources, parsed.Meta.Verified)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	record := o.buildRecord(target, adapter.Channel(), parsed)
	record.RiskLevel = o.Scorer.EscalateRisk(report.Risk, edges)

	sourceFiles := make([]string, 0, len(parsed.Sources))
	for path := range parsed.Sources {
		sourceFiles = append(sourceFiles, path)
	}
	record.HealthScore = o.Scorer.HealthScore(record, edges, sourceFiles)

	detail := &store.PackageDetail{
		Record:       record,
		Capabilities: parsed.Capabilities,
		Dependencies: edges,
		Analysis:     report,
		Warnings:     append(parsed.Warnings, depWarnings...),
	}
	if err := o.Store.SavePackage(ctx, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

func (o *Orchestrator) buildRecord(target catalog.Target, channel catalog.ChannelType, parsed *adapters.ParsedPackage) catalog.PackageRecord {
	if target.Channel != catalog.ChannelUnknown {
		channel = target.Channel
	}
	m := parsed.Meta
	return catalog.PackageRecord{
		CanonicalID:    target.CanonicalID,
		Channel:        channel,
		Name:           m.Name,
		Description:    m.Description,
		License:        m.License,
		Author:         m.Author,
		Version:        m.Version,
		RepoURL:        m.RepoURL,
		Stars:          m.Stars,
		Forks:          m.Forks,
		Downloads:      m.Downloads,
		OpenIssues:     m.OpenIssues,
		Contributors:   m.Contributors,
		Verified:       m.Verified,
		LastPushedAt:   m.LastPushedAt,
		LastIngestedAt: o.now(),
	}
}

// dispatchFailure records one pipeline failure on the checkpoint:
// cancellation releases the claim without an attempt, terminal errors
// skip the target for good, everything else consumes an attempt and
// requeues under backoff until the budget runs out.
func (o *Orchestrator) dispatchFailure(ctx context.Context, cp *checkpoint.Checkpoint, ingestErr error) error {
	id := cp.CanonicalID

	if ctx.Err() != nil {
		// Release outside the cancelled context so the claim is not
		// stranded until the stale window.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.Checkpoints.Release(rctx, id); err != nil {
			o.Logger.Warn("release after cancellation failed", "id", id, "err", err)
		}
		observability.Ingest().OnTransition(ctx, id, string(checkpoint.StateProcessing), string(checkpoint.StatePending))
		return ctx.Err()
	}

	failure := checkpoint.Failure{
		Code:    string(errors.GetCode(ingestErr)),
		Message: errors.UserMessage(ingestErr),
	}

	if shouldFail(ingestErr) {
		if err := o.Checkpoints.MarkFailed(ctx, id, failure); err != nil {
			return err
		}
		observability.Ingest().OnTransition(ctx, id, string(checkpoint.StateProcessing), string(checkpoint.StateFailed))
		o.Logger.Error("rejected target", "id", id, "code", failure.Code, "reason", failure.Message)
		return ingestErr
	}

	if shouldSkip(ingestErr) {
		if err := o.Checkpoints.MarkSkipped(ctx, id, failure); err != nil {
			return err
		}
		observability.Ingest().OnTransition(ctx, id, string(checkpoint.StateProcessing), string(checkpoint.StateSkipped))
		o.Logger.Warn("skipped target", "id", id, "code", failure.Code, "reason", failure.Message)
		return ingestErr
	}

	retryIn := o.Backoff.DelayWithHint(cp.Attempts, ingestErr)
	state, err := o.Checkpoints.RecordFailure(ctx, id, failure, o.MaxAttempts, retryIn)
	if err != nil {
		return err
	}
	observability.Ingest().OnTransition(ctx, id, string(checkpoint.StateProcessing), string(state))
	if state == checkpoint.StateFailed {
		o.Logger.Error("target exhausted its attempt budget", "id", id, "code", failure.Code, "attempts", cp.Attempts+1)
	} else {
		o.Logger.Debug("requeued target", "id", id, "code", failure.Code, "retry_in", retryIn.Round(time.Millisecond))
	}
	return ingestErr
}

// shouldSkip reports whether the target itself is missing, malformed, or
// unreachable by any adapter, so it is excluded rather than failed.
func shouldSkip(err error) bool {
	switch errors.GetCode(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeInvalidTarget,
		errors.ErrCodeInvalidChannel, errors.ErrCodeUnsupported:
		return true
	}
	return false
}

// shouldFail reports rejections that are terminal but land in the failed
// state without consuming retries: an oversized artifact exists and was
// refused, which is a failure, not an exclusion.
func shouldFail(err error) bool {
	return errors.Is(err, errors.ErrCodeDecompressionBomb)
}
