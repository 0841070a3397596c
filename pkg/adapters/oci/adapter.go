// Package oci implements the container-registry adapter. It reads image
// metadata from the Docker Registry v2 API: the manifest and the image
// config blob only, never layer content. Transport is inferred from the
// config's entrypoint, command, environment, and exposed ports.
package oci

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/toolharbor/toolharbor/pkg/adapters"
	"github.com/toolharbor/toolharbor/pkg/cache"
	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/fetch"
)

const acceptManifests = "application/vnd.oci.image.manifest.v1+json, " +
	"application/vnd.docker.distribution.manifest.v2+json, " +
	"application/vnd.oci.image.index.v1+json, " +
	"application/vnd.docker.distribution.manifest.list.v2+json"

// Adapter fetches image metadata from OCI registries.
type Adapter struct {
	http *fetch.Client

	// registryURL, when set, overrides the https://<host> base for every
	// request. Used by tests and single-registry mirrors.
	registryURL string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRegistryURL forces all registry traffic to one base URL.
func WithRegistryURL(u string) Option {
	return func(a *Adapter) { a.registryURL = u }
}

// New creates an OCI adapter.
func New(httpc *fetch.Client, opts ...Option) *Adapter {
	a := &Adapter{http: httpc}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Channel implements adapters.Adapter.
func (a *Adapter) Channel() catalog.ChannelType { return catalog.ChannelOCI }

func (a *Adapter) base(host string) string {
	if a.registryURL != "" {
		return a.registryURL
	}
	return "https://" + host
}

// token performs the anonymous pull-token handshake. Docker Hub uses a
// dedicated auth host; everything else gets the conventional /token
// endpoint. Failure is not fatal since public registries often serve
// manifests without a token.
func (a *Adapter) token(ctx context.Context, ref Reference) string {
	var tokenURL string
	if a.registryURL == "" && ref.Host == "registry-1.docker.io" {
		tokenURL = fmt.Sprintf("https://auth.docker.io/token?service=registry.docker.io&scope=repository:%s:pull", url.QueryEscape(ref.Repo))
	} else {
		tokenURL = fmt.Sprintf("%s/token?service=%s&scope=repository:%s:pull", a.base(ref.Host), ref.Host, url.QueryEscape(ref.Repo))
	}

	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := a.http.GetJSON(ctx, tokenURL, &resp); err != nil {
		return ""
	}
	if resp.Token != "" {
		return resp.Token
	}
	return resp.AccessToken
}

type manifestDoc struct {
	MediaType string `json:"mediaType"`
	Config    struct {
		Digest string `json:"digest"`
	} `json:"config"`
	Manifests []struct {
		Digest   string `json:"digest"`
		Platform struct {
			OS           string `json:"os"`
			Architecture string `json:"architecture"`
		} `json:"platform"`
	} `json:"manifests"`
}

func (m *manifestDoc) isIndex() bool {
	return len(m.Manifests) > 0 && m.Config.Digest == ""
}

// pickPlatform prefers linux/amd64 out of a multi-platform index.
func (m *manifestDoc) pickPlatform() string {
	for _, sub := range m.Manifests {
		if sub.Platform.OS == "linux" && sub.Platform.Architecture == "amd64" {
			return sub.Digest
		}
	}
	return m.Manifests[0].Digest
}

// imageConfig is the relevant subset of the OCI image config blob.
type imageConfig struct {
	Created time.Time `json:"created"`
	Config  struct {
		Env          []string          `json:"Env"`
		Entrypoint   []string          `json:"Entrypoint"`
		Cmd          []string          `json:"Cmd"`
		ExposedPorts map[string]any    `json:"ExposedPorts"`
		Labels       map[string]string `json:"Labels"`
	} `json:"config"`
}

// Fetch implements adapters.Adapter.
func (a *Adapter) Fetch(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
	ref, err := ParseReference(target.CanonicalID)
	if err != nil {
		return nil, err
	}

	var cfg *imageConfig
	key := cache.Key("oci", ref.String())
	err = a.http.Cached(ctx, key, cache.TTLRegistry, false, &cfg, func() error {
		var ferr error
		cfg, ferr = a.fetchConfig(ctx, ref)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	labels := cfg.Config.Labels
	meta := adapters.Meta{
		Name:        ref.Repo[strings.LastIndexByte(ref.Repo, '/')+1:],
		Description: labels["org.opencontainers.image.description"],
		License:     labels["org.opencontainers.image.licenses"],
		Author:      labels["org.opencontainers.image.authors"],
		Version:     labels["org.opencontainers.image.version"],
		RepoURL:     labels["org.opencontainers.image.source"],
		Transport:   inferTransport(cfg),
	}
	if meta.Version == "" && ref.Tag != "latest" {
		meta.Version = ref.Tag
	}
	if !cfg.Created.IsZero() {
		created := cfg.Created
		meta.LastPushedAt = &created
	}

	return &adapters.RawArtifact{
		Target:    target,
		Meta:      meta,
		Manifests: map[string][]byte{},
		Sources:   map[string][]byte{},
	}, nil
}

func (a *Adapter) fetchConfig(ctx context.Context, ref Reference) (*imageConfig, error) {
	headers := map[string]string{"Accept": acceptManifests}
	if tok := a.token(ctx, ref); tok != "" {
		headers["Authorization"] = "Bearer " + tok
	}

	var manifest manifestDoc
	manifestURL := fmt.Sprintf("%s/v2/%s/manifests/%s", a.base(ref.Host), ref.Repo, ref.Tag)
	if err := a.http.GetJSONWithHeaders(ctx, manifestURL, headers, &manifest); err != nil {
		return nil, err
	}
	if manifest.isIndex() {
		subURL := fmt.Sprintf("%s/v2/%s/manifests/%s", a.base(ref.Host), ref.Repo, manifest.pickPlatform())
		manifest = manifestDoc{}
		if err := a.http.GetJSONWithHeaders(ctx, subURL, headers, &manifest); err != nil {
			return nil, err
		}
	}
	if manifest.Config.Digest == "" {
		return nil, errors.New(errors.ErrCodeMalformedManifest, "image %s: manifest has no config digest", ref)
	}

	var cfg imageConfig
	blobURL := fmt.Sprintf("%s/v2/%s/blobs/%s", a.base(ref.Host), ref.Repo, manifest.Config.Digest)
	if err := a.http.GetJSONWithHeaders(ctx, blobURL, headers, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse implements adapters.Adapter. Images carry no readable code, so
// the parsed package is the metadata alone.
func (a *Adapter) Parse(ctx context.Context, raw *adapters.RawArtifact) (*adapters.ParsedPackage, error) {
	return &adapters.ParsedPackage{
		Target:       raw.Target,
		Meta:         raw.Meta,
		Manifests:    raw.Manifests,
		Sources:      map[string]string{},
		Capabilities: raw.Capabilities,
	}, nil
}

// inferTransport reads the service transport off the image config.
// Exposed ports or an explicit transport env mean a network server;
// otherwise an entrypoint implies a stdio-launched process.
func inferTransport(cfg *imageConfig) string {
	for _, env := range cfg.Config.Env {
		k, v, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(k) {
		case "MCP_TRANSPORT", "TRANSPORT":
			switch strings.ToLower(v) {
			case "sse":
				return "sse"
			case "http", "streamable-http":
				return "http"
			case "stdio":
				return "stdio"
			}
		}
	}
	if len(cfg.Config.ExposedPorts) > 0 {
		return "http"
	}
	if len(cfg.Config.Entrypoint) > 0 || len(cfg.Config.Cmd) > 0 {
		return "stdio"
	}
	return ""
}
