// Package scoring computes the deterministic health score and applies
// dependency-based risk escalation. Scoring is a pure function of the
// harvested record: the same inputs always produce the same score, so
// re-ingestion without upstream changes is a no-op on the catalog.
package scoring

import (
	"math"
	"path"
	"strings"
	"time"

	"github.com/toolharbor/toolharbor/pkg/catalog"
)

// recentActivityWindow is how far back a push or release still counts as
// active maintenance.
const recentActivityWindow = 180 * 24 * time.Hour

// Engine scores packages. The dangerous-library set and the clock are
// fixed at construction so scoring stays deterministic and testable.
type Engine struct {
	dangerous map[string]bool
	now       func() time.Time
}

// New creates an engine with the given dangerous-library names.
func New(dangerousLibraries []string) *Engine {
	set := make(map[string]bool, len(dangerousLibraries))
	for _, lib := range dangerousLibraries {
		set[strings.ToLower(lib)] = true
	}
	return &Engine{dangerous: set, now: time.Now}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// HealthScore computes the 0-100 health score for a record.
//
// Additive components:
//
//	base                          20
//	popularity (log scale)        0-20
//	secondary popularity (log)    0-10
//	has description               10
//	has license                   10
//	pushed within 180 days        15
//	test indicators               15
//	open-issue pressure (inverse) 0-10
//
// The sum is clamped to [0, 100].
func (e *Engine) HealthScore(rec catalog.PackageRecord, edges []catalog.DependencyEdge, sourceFiles []string) int {
	score := 20.0

	// Downloads are the primary popularity signal where the channel has
	// them; stars otherwise. The other becomes the secondary signal.
	primary, secondary := rec.Downloads, rec.Stars
	if primary == 0 {
		primary, secondary = rec.Stars, rec.Forks
	}
	score += min(20, math.Log10(float64(primary)+1)*4)
	score += min(10, math.Log10(float64(secondary)+1)*2.5)

	if strings.TrimSpace(rec.Description) != "" {
		score += 10
	}
	if rec.License != "" {
		score += 10
	}
	if rec.LastPushedAt != nil && e.now().Sub(*rec.LastPushedAt) < recentActivityWindow {
		score += 15
	}
	if hasTestIndicators(edges, sourceFiles) {
		score += 15
	}

	// Inverse pressure: issue-free repos get the full 10, decaying as the
	// open count grows.
	score += 10 / (1 + float64(rec.OpenIssues)/100)

	return int(max(0, min(100, score)))
}

// testFrameworks are dependency names that indicate a test suite exists.
var testFrameworks = map[string]bool{
	"jest": true, "vitest": true, "mocha": true, "ava": true, "tap": true,
	"tape": true, "jasmine": true, "pytest": true, "nose2": true, "tox": true,
	"github.com/stretchr/testify": true,
}

func hasTestIndicators(edges []catalog.DependencyEdge, sourceFiles []string) bool {
	for _, e := range edges {
		if testFrameworks[strings.ToLower(e.Library)] {
			return true
		}
	}
	for _, f := range sourceFiles {
		base := path.Base(f)
		if strings.HasSuffix(base, "_test.go") ||
			strings.HasPrefix(base, "test_") ||
			strings.Contains(base, ".test.") ||
			strings.Contains(base, ".spec.") {
			return true
		}
	}
	return false
}

// EscalateRisk raises the analysis risk level when a runtime dependency
// is on the dangerous list: safe becomes moderate, moderate becomes
// high. High and critical stand; unknown never escalates because there
// is no analysis result to qualify.
func (e *Engine) EscalateRisk(risk catalog.RiskLevel, edges []catalog.DependencyEdge) catalog.RiskLevel {
	if risk == catalog.RiskUnknown {
		return risk
	}
	for _, edge := range edges {
		if edge.Type != catalog.DepRuntime {
			continue
		}
		if e.dangerous[strings.ToLower(edge.Library)] {
			return risk.Escalate()
		}
	}
	return risk
}
