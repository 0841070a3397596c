// Package npm implements the registry adapter for npm. It fetches the
// packument for a target, resolves the latest published version, and
// expands the version's tarball in memory under a hard decompression
// ceiling. Retrieved code is only ever read, never executed.
package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/toolharbor/toolharbor/pkg/adapters"
	"github.com/toolharbor/toolharbor/pkg/cache"
	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/fetch"
)

// Adapter fetches packages from the npm registry.
type Adapter struct {
	client  *client
	http    *fetch.Client
	ceiling int64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRegistryURL points the adapter at a different registry (tests,
// private mirrors).
func WithRegistryURL(u string) Option {
	return func(a *Adapter) { a.client.registryURL = u }
}

// WithDownloadsURL points the adapter at a different downloads endpoint.
func WithDownloadsURL(u string) Option {
	return func(a *Adapter) { a.client.downloadsURL = u }
}

// New creates an npm adapter. ceiling caps cumulative decompressed bytes
// per tarball; zero or negative applies the 500 MB default.
func New(httpc *fetch.Client, ceiling int64, opts ...Option) *Adapter {
	if ceiling <= 0 {
		ceiling = 500 << 20
	}
	a := &Adapter{
		client: &client{
			http:         httpc,
			registryURL:  defaultRegistryURL,
			downloadsURL: defaultDownloadsURL,
		},
		http:    httpc,
		ceiling: ceiling,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Channel implements adapters.Adapter.
func (a *Adapter) Channel() catalog.ChannelType { return catalog.ChannelNPM }

// PackageName strips the npm:// prefix and normalizes the coordinate.
func PackageName(canonicalID string) (string, error) {
	name := strings.TrimSpace(strings.TrimPrefix(canonicalID, "npm://"))
	if name == "" || strings.ContainsAny(name, " \t") {
		return "", errors.New(errors.ErrCodeInvalidTarget, "not an npm coordinate: %s", canonicalID)
	}
	// Registry names are lowercase; scopes keep their @.
	return strings.ToLower(name), nil
}

// Fetch implements adapters.Adapter.
func (a *Adapter) Fetch(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
	name, err := PackageName(target.CanonicalID)
	if err != nil {
		return nil, err
	}

	var doc *registryDoc
	key := cache.Key("npm", name)
	err = a.http.Cached(ctx, key, cache.TTLRegistry, false, &doc, func() error {
		var ferr error
		doc, ferr = a.client.packument(ctx, name)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	latest := doc.DistTags.Latest
	ver, ok := doc.Versions[latest]
	if !ok {
		return nil, errors.New(errors.ErrCodeMalformedManifest, "npm package %s: latest tag %q has no version entry", name, latest)
	}

	meta := adapters.Meta{
		Name:        doc.Name,
		Description: ver.Description,
		License:     extractField(ver.License, "type"),
		Author:      extractField(ver.Author, "name"),
		Version:     latest,
		RepoURL:     normalizeRepoURL(extractField(ver.Repository, "url")),
		Downloads:   a.client.weeklyDownloads(ctx, name),
		Transport:   inferTransport(ver),
	}
	if t, ok := doc.Time[latest]; ok {
		published := t
		meta.LastPushedAt = &published
	}

	artifact := &adapters.RawArtifact{
		Target:    target,
		Meta:      meta,
		Manifests: map[string][]byte{},
		Sources:   map[string][]byte{},
	}

	if ver.Dist.Tarball != "" {
		if ver.Dist.UnpackedSize > a.ceiling {
			return nil, errors.New(errors.ErrCodeDecompressionBomb,
				"npm package %s declares unpacked size %s over ceiling %s",
				name, fetch.FormatBytes(ver.Dist.UnpackedSize), fetch.FormatBytes(a.ceiling))
		}
		body, err := a.http.GetBody(ctx, ver.Dist.Tarball, nil)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		files, err := unpackTarball(body, a.ceiling)
		if err != nil {
			return nil, err
		}
		artifact.Manifests = files.Manifests
		artifact.Sources = files.Sources
	}
	return artifact, nil
}

// Parse implements adapters.Adapter. The unpacked package.json is the
// source of truth for name and version when present.
func (a *Adapter) Parse(ctx context.Context, raw *adapters.RawArtifact) (*adapters.ParsedPackage, error) {
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

	if pj, ok := raw.Manifests["package.json"]; ok {
		var manifest struct {
			Name    string `json:"name"`
			Version string `json:"version"`
			License string `json:"license"`
		}
		if err := json.Unmarshal(pj, &manifest); err != nil {
			parsed.Warnings = append(parsed.Warnings, fmt.Sprintf("malformed package.json: %v", err))
		} else {
			if manifest.Name != "" {
				parsed.Meta.Name = manifest.Name
			}
			if manifest.Version != "" {
				parsed.Meta.Version = manifest.Version
			}
			if parsed.Meta.License == "" {
				parsed.Meta.License = manifest.License
			}
		}
	}
	return parsed, nil
}

// inferTransport guesses the service transport from version metadata: a
// bin entry implies a stdio-launched process.
func inferTransport(v versionDetails) string {
	switch v.Bin.(type) {
	case string, map[string]any:
		return "stdio"
	}
	return ""
}

// normalizeRepoURL rewrites git+https/git:// registry repository URLs to
// plain https.
func normalizeRepoURL(u string) string {
	u = strings.TrimPrefix(u, "git+")
	u = strings.TrimSuffix(u, ".git")
	if after, ok := strings.CutPrefix(u, "git://"); ok {
		u = "https://" + after
	}
	return u
}
