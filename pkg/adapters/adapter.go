// Package adapters defines the common contract for source adapters: the
// polymorphic fetch → parse pair each distribution channel implements.
// Channel selection happens through an explicit dispatch table, never
// reflection.
package adapters

import (
	"context"
	"time"

	"github.com/toolharbor/toolharbor/pkg/catalog"
)

// Meta is the descriptive metadata an adapter extracts for one target.
// Fields an adapter cannot supply stay at their zero value; the scoring
// engine treats absence as "no signal", not as an error.
type Meta struct {
	Name        string
	Description string
	License     string
	Author      string
	Version     string
	RepoURL     string

	Stars      int
	Forks      int
	Downloads  int
	OpenIssues int

	// Contributors lists maintainer logins, human accounts only.
	Contributors []string

	LastPushedAt *time.Time

	// Verified is true only for artifacts from an authoritative or
	// official source.
	Verified bool

	// Transport is the inferred service transport ("stdio", "http",
	// "sse"), when the channel exposes enough to guess.
	Transport string
}

// RawArtifact is the channel-specific payload fetched for one target,
// before normalization.
type RawArtifact struct {
	Target catalog.Target
	Meta   Meta

	// Manifests maps manifest filename (package.json, go.mod, ...) to
	// raw contents.
	Manifests map[string][]byte

	// Sources maps file path to raw source text for static analysis.
	// Adapters fetch entry files only, never whole trees.
	Sources map[string][]byte

	// Capabilities are tool/resource/prompt listings when the channel
	// exposes them directly (live endpoints, capability manifests).
	Capabilities []catalog.Capability
}

// ParsedPackage is the normalized output of an adapter's Parse step,
// consumed concurrently by the dependency normalizer and the security
// analyzer.
type ParsedPackage struct {
	Target catalog.Target
	Meta   Meta

	Manifests    map[string][]byte
	Sources      map[string]string
	Capabilities []catalog.Capability

	// Warnings collects non-fatal parse problems (malformed manifests,
	// missing fields). Ingestion proceeds with whatever parsed.
	Warnings []string
}

// Adapter is the common contract implemented once per channel type.
// Implementations must never execute, compile, or import retrieved code.
type Adapter interface {
	// Channel returns the channel type this adapter serves.
	Channel() catalog.ChannelType

	// Fetch acquires the raw artifact for the target. Failures are typed
	// via the errors package taxonomy: NOT_FOUND is terminal,
	// RATE_LIMITED/TIMEOUT/TRANSIENT_NETWORK retryable.
	Fetch(ctx context.Context, target catalog.Target) (*RawArtifact, error)

	// Parse normalizes the raw artifact. A malformed manifest degrades to
	// a warning rather than failing the ingestion.
	Parse(ctx context.Context, raw *RawArtifact) (*ParsedPackage, error)
}
