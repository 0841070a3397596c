package scoring

import (
	"testing"
	"time"

	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/config"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(config.DefaultDangerousLibraries())
	e.SetClock(func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) })
	return e
}

func TestHealthScore_Deterministic(t *testing.T) {
	e := newEngine(t)
	rec := catalog.PackageRecord{
		Description: "a server",
		License:     "MIT",
		Downloads:   50000,
		Stars:       1200,
	}
	first := e.HealthScore(rec, nil, nil)
	for range 5 {
		if got := e.HealthScore(rec, nil, nil); got != first {
			t.Fatalf("score not deterministic: %d vs %d", got, first)
		}
	}
}

func TestHealthScore_Bounds(t *testing.T) {
	e := newEngine(t)

	recent := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	maxed := catalog.PackageRecord{
		Description:  "everything",
		License:      "Apache-2.0",
		Downloads:    10_000_000,
		Stars:        100_000,
		LastPushedAt: &recent,
	}
	edges := []catalog.DependencyEdge{{Library: "vitest", Ecosystem: "npm", Type: catalog.DepDev}}
	if got := e.HealthScore(maxed, edges, nil); got != 100 {
		t.Errorf("fully loaded record should clamp to 100, got %d", got)
	}

	bare := catalog.PackageRecord{OpenIssues: 100000}
	got := e.HealthScore(bare, nil, nil)
	if got < 0 || got > 25 {
		t.Errorf("bare record should land near the base, got %d", got)
	}
}

func TestHealthScore_ComponentSignals(t *testing.T) {
	e := newEngine(t)
	base := catalog.PackageRecord{}

	withLicense := base
	withLicense.License = "MIT"
	if e.HealthScore(withLicense, nil, nil) <= e.HealthScore(base, nil, nil) {
		t.Error("license must add points")
	}

	withDocs := base
	withDocs.Description = "documented"
	if e.HealthScore(withDocs, nil, nil) <= e.HealthScore(base, nil, nil) {
		t.Error("description must add points")
	}

	popular := base
	popular.Downloads = 1_000_000
	if e.HealthScore(popular, nil, nil) <= e.HealthScore(base, nil, nil) {
		t.Error("popularity must add points")
	}

	stale := base
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	stale.LastPushedAt = &old
	fresh := base
	recent := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	fresh.LastPushedAt = &recent
	if e.HealthScore(fresh, nil, nil) <= e.HealthScore(stale, nil, nil) {
		t.Error("recent activity must add points over stale activity")
	}

	buggy := base
	buggy.OpenIssues = 5000
	if e.HealthScore(buggy, nil, nil) >= e.HealthScore(base, nil, nil) {
		t.Error("open issue pressure must cost points")
	}
}

func TestHealthScore_TestIndicators(t *testing.T) {
	e := newEngine(t)
	rec := catalog.PackageRecord{}

	withFramework := e.HealthScore(rec, []catalog.DependencyEdge{
		{Library: "pytest", Ecosystem: "pypi", Type: catalog.DepDev},
	}, nil)
	withFiles := e.HealthScore(rec, nil, []string{"src/server.test.ts"})
	without := e.HealthScore(rec, nil, []string{"src/server.ts"})

	if withFramework <= without || withFiles <= without {
		t.Errorf("test indicators must add points: framework=%d files=%d none=%d", withFramework, withFiles, without)
	}
}

func TestEscalateRisk(t *testing.T) {
	e := newEngine(t)
	dangerous := []catalog.DependencyEdge{
		{Library: "child_process-wrapper", Ecosystem: "npm", Type: catalog.DepRuntime},
	}
	devOnly := []catalog.DependencyEdge{
		{Library: "child_process-wrapper", Ecosystem: "npm", Type: catalog.DepDev},
	}
	clean := []catalog.DependencyEdge{
		{Library: "zod", Ecosystem: "npm", Type: catalog.DepRuntime},
	}

	tests := []struct {
		name  string
		risk  catalog.RiskLevel
		edges []catalog.DependencyEdge
		want  catalog.RiskLevel
	}{
		{"safe escalates to moderate", catalog.RiskSafe, dangerous, catalog.RiskModerate},
		{"moderate escalates to high", catalog.RiskModerate, dangerous, catalog.RiskHigh},
		{"high stands", catalog.RiskHigh, dangerous, catalog.RiskHigh},
		{"critical stands", catalog.RiskCritical, dangerous, catalog.RiskCritical},
		{"unknown never escalates", catalog.RiskUnknown, dangerous, catalog.RiskUnknown},
		{"dev dependency does not escalate", catalog.RiskSafe, devOnly, catalog.RiskSafe},
		{"clean runtime deps do not escalate", catalog.RiskSafe, clean, catalog.RiskSafe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.EscalateRisk(tt.risk, tt.edges); got != tt.want {
				t.Errorf("EscalateRisk(%s) = %s, want %s", tt.risk, got, tt.want)
			}
		})
	}
}

// A popular utility with clean code but a process-spawning runtime
// dependency: the dependency escalates risk to moderate while the health
// score stays in the unremarkable middle band.
func TestScoring_DangerousDependencyScenario(t *testing.T) {
	e := newEngine(t)
	rec := catalog.PackageRecord{
		CanonicalID: "npm://handy-tool",
		Channel:     catalog.ChannelNPM,
		Name:        "handy-tool",
		Downloads:   800,
	}
	edges := []catalog.DependencyEdge{
		{Library: "child_process-wrapper", Ecosystem: "npm", Constraint: "^1.0.0", Type: catalog.DepRuntime},
	}

	risk := e.EscalateRisk(catalog.RiskSafe, edges)
	if risk != catalog.RiskModerate {
		t.Errorf("expected moderate risk, got %s", risk)
	}

	health := e.HealthScore(rec, edges, nil)
	if health < 20 || health > 50 {
		t.Errorf("expected mid-band health score, got %d", health)
	}
}
