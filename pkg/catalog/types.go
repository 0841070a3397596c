// Package catalog defines the normalized data model for harvested
// packages: targets, package records, capability records, and dependency
// edges. All persistence and scoring operates on these types.
package catalog

import (
	"strings"
	"time"
)

// ChannelType identifies the distribution channel a target is harvested from.
type ChannelType string

const (
	// ChannelGitHub is the authoritative source-control host.
	ChannelGitHub ChannelType = "github"

	// ChannelNPM is the npm package registry.
	ChannelNPM ChannelType = "npm"

	// ChannelOCI is a container image registry.
	ChannelOCI ChannelType = "oci"

	// ChannelEndpoint is a live network endpoint speaking the tool protocol.
	ChannelEndpoint ChannelType = "endpoint"

	// ChannelUnknown means the channel must be auto-detected.
	ChannelUnknown ChannelType = ""
)

// RiskLevel is the discrete security classification of a package.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
	RiskUnknown  RiskLevel = "unknown"
)

// riskOrder ranks levels for escalation comparisons. Unknown sits outside
// the ordering and never participates in escalation.
var riskOrder = map[RiskLevel]int{
	RiskSafe:     0,
	RiskModerate: 1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Escalate returns the next level up from r: safe→moderate, moderate→high.
// High, critical, and unknown are returned unchanged.
func (r RiskLevel) Escalate() RiskLevel {
	switch r {
	case RiskSafe:
		return RiskModerate
	case RiskModerate:
		return RiskHigh
	}
	return r
}

// AtLeast reports whether r is at or above other in severity.
// Unknown compares below everything.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	ri, ok := riskOrder[r]
	if !ok {
		return false
	}
	oi, ok := riskOrder[other]
	if !ok {
		return true
	}
	return ri >= oi
}

// DependencyType classifies how a dependency is used by its parent.
type DependencyType string

const (
	DepRuntime DependencyType = "runtime"
	DepDev     DependencyType = "dev"
	DepPeer    DependencyType = "peer"
)

// depRestrictiveness ranks dependency types for dedupe: runtime presence
// matters most for risk, so runtime > dev > peer.
var depRestrictiveness = map[DependencyType]int{
	DepRuntime: 2,
	DepDev:     1,
	DepPeer:    0,
}

// MoreRestrictive reports whether d outranks other for risk purposes.
func (d DependencyType) MoreRestrictive(other DependencyType) bool {
	return depRestrictiveness[d] > depRestrictiveness[other]
}

// Target is one unit of ingestion work: a canonical identifier plus the
// channel it should be harvested from. Channel may be empty, in which
// case the orchestrator auto-detects it.
type Target struct {
	CanonicalID string      `json:"canonical_id" bson:"canonical_id"`
	Channel     ChannelType `json:"channel" bson:"channel"`
}

// PackageRecord is the normalized representation of one harvested
// artifact. Uniqueness is enforced on CanonicalID so re-ingestion updates
// rather than duplicates.
type PackageRecord struct {
	CanonicalID string      `json:"canonical_id" bson:"canonical_id"`
	Channel     ChannelType `json:"channel" bson:"channel"`

	Name        string `json:"name" bson:"name"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	License     string `json:"license,omitempty" bson:"license,omitempty"`
	Author      string `json:"author,omitempty" bson:"author,omitempty"`
	Version     string `json:"version,omitempty" bson:"version,omitempty"`
	RepoURL     string `json:"repo_url,omitempty" bson:"repo_url,omitempty"`

	Stars      int `json:"stars" bson:"stars"`
	Forks      int `json:"forks" bson:"forks"`
	Downloads  int `json:"downloads" bson:"downloads"`
	OpenIssues int `json:"open_issues" bson:"open_issues"`

	Contributors []string `json:"contributors,omitempty" bson:"contributors,omitempty"`

	RiskLevel   RiskLevel `json:"risk_level" bson:"risk_level"`
	HealthScore int       `json:"health_score" bson:"health_score"`
	Verified    bool      `json:"verified" bson:"verified"`

	LastPushedAt   *time.Time `json:"last_pushed_at,omitempty" bson:"last_pushed_at,omitempty"`
	LastIngestedAt time.Time  `json:"last_ingested_at" bson:"last_ingested_at"`
}

// CapabilityKind distinguishes the capability record flavors.
type CapabilityKind string

const (
	CapabilityTool     CapabilityKind = "tool"
	CapabilityResource CapabilityKind = "resource"
	CapabilityPrompt   CapabilityKind = "prompt"
)

// Capability is a child record of a PackageRecord. The full set is
// replaced on every re-ingestion of the parent, never partially patched.
type Capability struct {
	Kind        CapabilityKind `json:"kind" bson:"kind"`
	Name        string         `json:"name" bson:"name"`
	Description string         `json:"description,omitempty" bson:"description,omitempty"`
	Schema      []byte         `json:"schema,omitempty" bson:"schema,omitempty"`
}

// DependencyEdge records one declared dependency of a package.
// The full edge set is regenerated on each ingestion of the parent.
type DependencyEdge struct {
	Library    string         `json:"library" bson:"library"`
	Ecosystem  string         `json:"ecosystem" bson:"ecosystem"`
	Constraint string         `json:"constraint,omitempty" bson:"constraint,omitempty"`
	Type       DependencyType `json:"type" bson:"type"`
}

// NormalizeID canonicalizes a target identifier: trims whitespace and
// lowercases the scheme/host portion while preserving path case (package
// names on some registries are case-sensitive).
func NormalizeID(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "://"); i > 0 {
		return strings.ToLower(s[:i]) + s[i:]
	}
	return s
}
