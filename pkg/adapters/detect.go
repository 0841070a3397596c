package adapters

import (
	"regexp"
	"strings"

	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
)

// Registry is the explicit dispatch table from channel type to adapter.
type Registry struct {
	adapters map[catalog.ChannelType]Adapter
}

// NewRegistry builds a dispatch table from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[catalog.ChannelType]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Channel()] = a
	}
	return &Registry{adapters: m}
}

// ForChannel returns the adapter registered for the channel type.
func (r *Registry) ForChannel(ch catalog.ChannelType) (Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}

// detectionOrder is the auto-detection priority when the identifier gives
// no clear signal: authoritative source first, then registry, then the
// generic endpoint probe.
var detectionOrder = []catalog.ChannelType{catalog.ChannelGitHub, catalog.ChannelNPM, catalog.ChannelEndpoint}

// Resolve picks the adapter for a target. An explicit channel tag wins;
// otherwise the canonical identifier is inspected, and if it stays
// ambiguous the registered adapters are tried in priority order.
func (r *Registry) Resolve(target catalog.Target) (Adapter, error) {
	ch := target.Channel
	if ch == catalog.ChannelUnknown {
		ch = Detect(target.CanonicalID)
	}
	if ch != catalog.ChannelUnknown {
		if a, ok := r.adapters[ch]; ok {
			return a, nil
		}
		return nil, errors.New(errors.ErrCodeInvalidChannel, "no adapter for channel %q", ch)
	}
	for _, fallback := range detectionOrder {
		if a, ok := r.adapters[fallback]; ok {
			return a, nil
		}
	}
	return nil, errors.New(errors.ErrCodeInvalidChannel, "no adapter available for %s", target.CanonicalID)
}

// Detect infers the channel type from the shape of a canonical
// identifier. Returns ChannelUnknown when the identifier is ambiguous.
func Detect(canonicalID string) catalog.ChannelType {
	id := strings.TrimSpace(canonicalID)
	lower := strings.ToLower(id)

	switch {
	case strings.HasPrefix(lower, "npm://"):
		return catalog.ChannelNPM
	case strings.HasPrefix(lower, "oci://"), strings.HasPrefix(lower, "docker://"):
		return catalog.ChannelOCI
	case strings.Contains(lower, "github.com/"):
		return catalog.ChannelGitHub
	}

	// Registry image references without a scheme: host/repo[:tag] where
	// the host is a known container registry.
	for _, reg := range []string{"docker.io/", "ghcr.io/", "quay.io/", "registry.hub.docker.com/"} {
		if strings.HasPrefix(lower, reg) {
			return catalog.ChannelOCI
		}
	}

	// npm coordinates: @scope/name, or a bare lowercase name without
	// slashes (npm forbids uppercase).
	if strings.HasPrefix(id, "@") && strings.Count(id, "/") == 1 {
		return catalog.ChannelNPM
	}
	if bareNamePattern.MatchString(id) {
		return catalog.ChannelNPM
	}

	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return catalog.ChannelEndpoint
	}
	return catalog.ChannelUnknown
}

// bareNamePattern matches unscoped registry package names: lowercase,
// no slashes, no scheme. Anything with uppercase or path separators
// falls through to the priority fallback instead.
var bareNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
