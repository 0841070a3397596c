package adapters

import (
	"context"
	"testing"

	"github.com/toolharbor/toolharbor/pkg/catalog"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		id   string
		want catalog.ChannelType
	}{
		{"npm://@scope/pkg", catalog.ChannelNPM},
		{"npm://left-pad", catalog.ChannelNPM},
		{"@modelcontextprotocol/server-filesystem", catalog.ChannelNPM},
		{"oci://docker.io/library/redis", catalog.ChannelOCI},
		{"ghcr.io/owner/image:latest", catalog.ChannelOCI},
		{"docker.io/library/nginx", catalog.ChannelOCI},
		{"https://github.com/owner/repo", catalog.ChannelGitHub},
		{"github.com/owner/repo", catalog.ChannelGitHub},
		{"https://tools.example.com/mcp", catalog.ChannelEndpoint},
		{"http://localhost:8080", catalog.ChannelEndpoint},
		{"express", catalog.ChannelNPM},
		{"lodash.merge", catalog.ChannelNPM},
		{"Express", catalog.ChannelUnknown},
		{"owner/repo-without-host", catalog.ChannelUnknown},
	}
	for _, tt := range tests {
		if got := Detect(tt.id); got != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

type stubAdapter struct {
	channel catalog.ChannelType
}

func (s *stubAdapter) Channel() catalog.ChannelType { return s.channel }
func (s *stubAdapter) Fetch(ctx context.Context, target catalog.Target) (*RawArtifact, error) {
	return &RawArtifact{Target: target}, nil
}
func (s *stubAdapter) Parse(ctx context.Context, raw *RawArtifact) (*ParsedPackage, error) {
	return &ParsedPackage{Target: raw.Target}, nil
}

func TestRegistry_Resolve_ExplicitChannel(t *testing.T) {
	npm := &stubAdapter{channel: catalog.ChannelNPM}
	gh := &stubAdapter{channel: catalog.ChannelGitHub}
	r := NewRegistry(npm, gh)

	a, err := r.Resolve(catalog.Target{CanonicalID: "whatever", Channel: catalog.ChannelNPM})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if a != npm {
		t.Error("explicit channel tag must win")
	}
}

func TestRegistry_Resolve_Detection(t *testing.T) {
	npm := &stubAdapter{channel: catalog.ChannelNPM}
	gh := &stubAdapter{channel: catalog.ChannelGitHub}
	r := NewRegistry(npm, gh)

	a, err := r.Resolve(catalog.Target{CanonicalID: "npm://left-pad"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if a != npm {
		t.Error("expected npm adapter from detection")
	}

	// A bare lowercase name is a registry coordinate, never a repo
	// reference the authoritative adapter would reject.
	a, err = r.Resolve(catalog.Target{CanonicalID: "left-pad"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if a != npm {
		t.Error("expected npm adapter for a bare package name")
	}
}

func TestRegistry_Resolve_FallbackPriority(t *testing.T) {
	npm := &stubAdapter{channel: catalog.ChannelNPM}
	gh := &stubAdapter{channel: catalog.ChannelGitHub}
	r := NewRegistry(npm, gh)

	// Ambiguous identifier: the authoritative adapter is tried first.
	a, err := r.Resolve(catalog.Target{CanonicalID: "ambiguous-name-with-UPPER"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if a != gh {
		t.Error("expected authoritative adapter first in fallback order")
	}

	// Without it, the registry adapter is next.
	r2 := NewRegistry(npm)
	a, err = r2.Resolve(catalog.Target{CanonicalID: "ambiguous-name-with-UPPER"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if a != npm {
		t.Error("expected registry adapter second in fallback order")
	}
}

func TestRegistry_Resolve_UnknownChannel(t *testing.T) {
	r := NewRegistry(&stubAdapter{channel: catalog.ChannelNPM})
	_, err := r.Resolve(catalog.Target{CanonicalID: "x", Channel: catalog.ChannelOCI})
	if err == nil {
		t.Error("expected error for unregistered channel")
	}
}
