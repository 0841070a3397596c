package orchestrator

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolharbor/toolharbor/pkg/adapters"
	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/checkpoint"
	"github.com/toolharbor/toolharbor/pkg/config"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/httputil"
	"github.com/toolharbor/toolharbor/pkg/scoring"
	"github.com/toolharbor/toolharbor/pkg/store"
)

// stubAdapter lets each test script the fetch behavior.
type stubAdapter struct {
	channel catalog.ChannelType
	fetch   func(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error)
}

func (s *stubAdapter) Channel() catalog.ChannelType { return s.channel }

func (s *stubAdapter) Fetch(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
	if s.fetch != nil {
		return s.fetch(ctx, target)
	}
	return &adapters.RawArtifact{
		Target: target,
		Meta:   adapters.Meta{Name: "stub", Version: "1.0.0", License: "MIT", Downloads: 1000},
		Manifests: map[string][]byte{
			"package.json": []byte(`{"dependencies": {"child_process-wrapper": "^1.0.0"}}`),
		},
		Sources: map[string][]byte{"index.js": []byte("export const ok = 1;")},
	}, nil
}

func (s *stubAdapter) Parse(ctx context.Context, raw *adapters.RawArtifact) (*adapters.ParsedPackage, error) {
	parsed := &adapters.ParsedPackage{
		Target:       raw.Target,
		Meta:         raw.Meta,
		Manifests:    raw.Manifests,
		Sources:      make(map[string]string, len(raw.Sources)),
		Capabilities: raw.Capabilities,
	}
	for path, text := range raw.Sources {
		parsed.Sources[path] = string(text)
	}
	return parsed, nil
}

type fixture struct {
	orch        *Orchestrator
	checkpoints *checkpoint.MemoryStore
	packages    *store.MemoryStore
}

func newFixture(t *testing.T, adapter adapters.Adapter) *fixture {
	t.Helper()
	cps := checkpoint.NewMemoryStore()
	pkgs := store.NewMemoryStore()
	orch := New(Orchestrator{
		Registry:    adapters.NewRegistry(adapter),
		Checkpoints: cps,
		Store:       pkgs,
		Scorer:      scoring.New(config.DefaultDangerousLibraries()),
		Backoff:     httputil.Backoff{Base: time.Millisecond, Cap: time.Millisecond, Jitter: 0},
		MaxAttempts: 3,
	})
	return &fixture{orch: orch, checkpoints: cps, packages: pkgs}
}

func enqueue(t *testing.T, f *fixture, id string) catalog.Target {
	t.Helper()
	target := catalog.Target{CanonicalID: id, Channel: catalog.ChannelNPM}
	if err := f.orch.Enqueue(context.Background(), []catalog.Target{target}, false); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return target
}

func TestIngest_Success(t *testing.T) {
	f := newFixture(t, &stubAdapter{channel: catalog.ChannelNPM})
	ctx := context.Background()
	target := enqueue(t, f, "npm://stub")

	detail, err := f.orch.Ingest(ctx, target, "w1")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	// The dangerous runtime dependency escalates clean code to moderate.
	if detail.Record.RiskLevel != catalog.RiskModerate {
		t.Errorf("expected moderate risk, got %s", detail.Record.RiskLevel)
	}
	if detail.Record.HealthScore <= 0 || detail.Record.HealthScore > 100 {
		t.Errorf("health score out of range: %d", detail.Record.HealthScore)
	}
	if len(detail.Dependencies) != 1 || detail.Dependencies[0].Library != "child_process-wrapper" {
		t.Errorf("unexpected dependency edges: %+v", detail.Dependencies)
	}

	cp, err := f.checkpoints.Get(ctx, "npm://stub")
	if err != nil {
		t.Fatal(err)
	}
	if cp.State != checkpoint.StateCompleted {
		t.Errorf("expected completed checkpoint, got %s", cp.State)
	}

	saved, err := f.packages.GetPackage(ctx, "npm://stub")
	if err != nil {
		t.Fatalf("package not persisted: %v", err)
	}
	if saved.Record.Name != "stub" {
		t.Errorf("unexpected persisted record: %+v", saved.Record)
	}
}

func TestIngest_TerminalErrorSkips(t *testing.T) {
	adapter := &stubAdapter{
		channel: catalog.ChannelNPM,
		fetch: func(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
			return nil, errors.New(errors.ErrCodeNotFound, "no such package")
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()
	target := enqueue(t, f, "npm://gone")

	if _, err := f.orch.Ingest(ctx, target, "w1"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	cp, _ := f.checkpoints.Get(ctx, "npm://gone")
	if cp.State != checkpoint.StateSkipped {
		t.Errorf("expected skipped, got %s", cp.State)
	}
	if cp.LastErrorCode != "NOT_FOUND" {
		t.Errorf("expected failure code recorded, got %q", cp.LastErrorCode)
	}
	if _, err := f.packages.GetPackage(ctx, "npm://gone"); err == nil {
		t.Error("skipped target must not be persisted")
	}
}

func TestIngest_OversizedArtifactFailsWithoutRetry(t *testing.T) {
	adapter := &stubAdapter{
		channel: catalog.ChannelNPM,
		fetch: func(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
			return nil, errors.New(errors.ErrCodeDecompressionBomb, "declared size exceeds ceiling")
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()
	target := enqueue(t, f, "npm://huge")

	if _, err := f.orch.Ingest(ctx, target, "w1"); !errors.Is(err, errors.ErrCodeDecompressionBomb) {
		t.Fatalf("expected DECOMPRESSION_BOMB, got %v", err)
	}

	cp, _ := f.checkpoints.Get(ctx, "npm://huge")
	if cp.State != checkpoint.StateFailed {
		t.Errorf("rejected artifact must land in failed, got %s", cp.State)
	}
	if cp.LastErrorCode != "DECOMPRESSION_BOMB" {
		t.Errorf("expected failure code recorded, got %q", cp.LastErrorCode)
	}
	if cp.NotBefore != nil {
		t.Error("rejected artifact must not be scheduled for retry")
	}

	// The failed checkpoint is terminal: no further claim succeeds and
	// the queue never offers it again.
	if _, err := f.orch.Ingest(ctx, target, "w2"); err == nil {
		t.Error("expected the second claim to be refused")
	}
	pending, _ := f.checkpoints.NextPending(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("failed target must not reappear in the queue: %v", pending)
	}
	if _, err := f.packages.GetPackage(ctx, "npm://huge"); err == nil {
		t.Error("rejected artifact must not be persisted")
	}
}

func TestIngest_RetryableErrorRequeues(t *testing.T) {
	adapter := &stubAdapter{
		channel: catalog.ChannelNPM,
		fetch: func(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
			return nil, errors.New(errors.ErrCodeTransient, "connection reset")
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()
	target := enqueue(t, f, "npm://flaky")

	if _, err := f.orch.Ingest(ctx, target, "w1"); !errors.Is(err, errors.ErrCodeTransient) {
		t.Fatalf("expected TRANSIENT_NETWORK, got %v", err)
	}

	cp, _ := f.checkpoints.Get(ctx, "npm://flaky")
	if cp.State != checkpoint.StatePending {
		t.Errorf("expected requeued pending, got %s", cp.State)
	}
	if cp.Attempts != 1 {
		t.Errorf("expected one consumed attempt, got %d", cp.Attempts)
	}
	if cp.NotBefore == nil {
		t.Error("expected backoff delay on the checkpoint")
	}
}

func TestIngest_ExhaustionFails(t *testing.T) {
	adapter := &stubAdapter{
		channel: catalog.ChannelNPM,
		fetch: func(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
			return nil, errors.New(errors.ErrCodeTimeout, "deadline exceeded")
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()
	target := enqueue(t, f, "npm://slow")

	for attempt := 1; attempt <= f.orch.MaxAttempts; attempt++ {
		time.Sleep(2 * time.Millisecond) // clear the tiny test backoff
		if _, err := f.orch.Ingest(ctx, target, "w1"); err == nil {
			t.Fatalf("attempt %d: expected error", attempt)
		}
	}

	cp, _ := f.checkpoints.Get(ctx, "npm://slow")
	if cp.State != checkpoint.StateFailed {
		t.Errorf("expected failed after exhaustion, got %s", cp.State)
	}
	if cp.Attempts != f.orch.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", f.orch.MaxAttempts, cp.Attempts)
	}
}

func TestIngest_RepeatIngestionIsIdempotent(t *testing.T) {
	f := newFixture(t, &stubAdapter{channel: catalog.ChannelNPM})
	ctx := context.Background()
	target := enqueue(t, f, "npm://stub")

	first, err := f.orch.Ingest(ctx, target, "w1")
	if err != nil {
		t.Fatalf("first ingestion failed: %v", err)
	}

	// Operator refresh re-queues the completed target; the second run
	// must replace, not duplicate.
	if err := f.orch.Enqueue(ctx, []catalog.Target{target}, true); err != nil {
		t.Fatalf("refresh enqueue failed: %v", err)
	}
	second, err := f.orch.Ingest(ctx, target, "w1")
	if err != nil {
		t.Fatalf("second ingestion failed: %v", err)
	}

	a, b := first.Record, second.Record
	if b.LastIngestedAt.Before(a.LastIngestedAt) {
		t.Errorf("ingestion timestamp went backwards: %v then %v", a.LastIngestedAt, b.LastIngestedAt)
	}
	a.LastIngestedAt, b.LastIngestedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("records differ beyond the ingestion timestamp:\nfirst:  %+v\nsecond: %+v", a, b)
	}

	saved, err := f.packages.GetPackage(ctx, "npm://stub")
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Dependencies) != len(first.Dependencies) {
		t.Errorf("dependency edges duplicated: %d then %d", len(first.Dependencies), len(saved.Dependencies))
	}
	if len(saved.Capabilities) != len(first.Capabilities) {
		t.Errorf("capability records duplicated: %d then %d", len(first.Capabilities), len(saved.Capabilities))
	}
	if n, _ := f.packages.CountPackages(ctx); n != 1 {
		t.Errorf("expected a single catalog record, got %d", n)
	}
}

func TestIngest_CancellationReleases(t *testing.T) {
	adapter := &stubAdapter{
		channel: catalog.ChannelNPM,
		fetch: func(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newFixture(t, adapter)
	target := enqueue(t, f, "npm://hung")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := f.orch.Ingest(ctx, target, "w1"); err == nil {
		t.Fatal("expected cancellation error")
	}

	cp, _ := f.checkpoints.Get(context.Background(), "npm://hung")
	if cp.State != checkpoint.StatePending {
		t.Errorf("expected released pending claim, got %s", cp.State)
	}
	if cp.Attempts != 0 {
		t.Errorf("cancellation must not consume an attempt, got %d", cp.Attempts)
	}
}

func TestIngest_SecondClaimRejected(t *testing.T) {
	release := make(chan struct{})
	adapter := &stubAdapter{
		channel: catalog.ChannelNPM,
		fetch: func(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
			<-release
			return nil, errors.New(errors.ErrCodeNotFound, "late")
		},
	}
	f := newFixture(t, adapter)
	target := enqueue(t, f, "npm://contended")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.orch.Ingest(context.Background(), target, "w1")
	}()

	// Give the first worker time to claim, then contend.
	time.Sleep(10 * time.Millisecond)
	_, err := f.orch.Ingest(context.Background(), target, "w2")
	if !errors.Is(err, errors.ErrCodeAlreadyProcessing) {
		t.Fatalf("expected ALREADY_PROCESSING, got %v", err)
	}
	close(release)
	<-done
}

func TestPool_DrainsQueue(t *testing.T) {
	var ingested atomic.Int64
	adapter := &stubAdapter{
		channel: catalog.ChannelNPM,
		fetch: func(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
			ingested.Add(1)
			return &adapters.RawArtifact{
				Target: target,
				Meta:   adapters.Meta{Name: target.CanonicalID},
			}, nil
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	ids := []string{"npm://a", "npm://b", "npm://c", "npm://d", "npm://e"}
	for _, id := range ids {
		enqueue(t, f, id)
	}

	pool := NewPool(f.orch, 3)
	pool.PollInterval = 5 * time.Millisecond
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := ingested.Load(); got != int64(len(ids)) {
		t.Errorf("expected %d ingestions, got %d", len(ids), got)
	}
	counts, _ := f.checkpoints.Counts(ctx)
	if counts[checkpoint.StateCompleted] != int64(len(ids)) {
		t.Errorf("expected all completed, got %v", counts)
	}
	n, _ := f.packages.CountPackages(ctx)
	if n != int64(len(ids)) {
		t.Errorf("expected %d persisted packages, got %d", len(ids), n)
	}
}

func TestPool_FailuresDoNotStopTheRun(t *testing.T) {
	adapter := &stubAdapter{
		channel: catalog.ChannelNPM,
		fetch: func(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
			if target.CanonicalID == "npm://bad" {
				return nil, errors.New(errors.ErrCodeNotFound, "gone")
			}
			return &adapters.RawArtifact{Target: target, Meta: adapters.Meta{Name: "ok"}}, nil
		},
	}
	f := newFixture(t, adapter)
	ctx := context.Background()

	enqueue(t, f, "npm://good")
	enqueue(t, f, "npm://bad")

	pool := NewPool(f.orch, 2)
	pool.PollInterval = 5 * time.Millisecond
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts, _ := f.checkpoints.Counts(ctx)
	if counts[checkpoint.StateCompleted] != 1 || counts[checkpoint.StateSkipped] != 1 {
		t.Errorf("unexpected terminal states: %v", counts)
	}
}
