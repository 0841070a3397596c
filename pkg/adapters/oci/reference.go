package oci

import (
	"strings"

	"github.com/toolharbor/toolharbor/pkg/errors"
)

// Reference is a parsed container image coordinate.
type Reference struct {
	Host string // registry host, e.g. registry-1.docker.io
	Repo string // repository path, e.g. library/redis
	Tag  string // tag or digest reference
}

// String renders the reference in host/repo:tag form.
func (r Reference) String() string {
	return r.Host + "/" + r.Repo + ":" + r.Tag
}

// ParseReference parses oci:// and docker:// identifiers plus bare image
// references. Docker Hub shorthand gets the library/ namespace and the
// canonical registry host; a missing tag defaults to latest.
func ParseReference(canonicalID string) (Reference, error) {
	ref := strings.TrimSpace(canonicalID)
	ref = strings.TrimPrefix(ref, "oci://")
	ref = strings.TrimPrefix(ref, "docker://")
	if ref == "" {
		return Reference{}, errors.New(errors.ErrCodeInvalidTarget, "empty image reference: %s", canonicalID)
	}

	tag := "latest"
	if i := strings.LastIndexByte(ref, '@'); i >= 0 {
		tag = ref[i+1:]
		ref = ref[:i]
	} else if i := strings.LastIndexByte(ref, ':'); i >= 0 && !strings.Contains(ref[i+1:], "/") {
		tag = ref[i+1:]
		ref = ref[:i]
	}

	host := "registry-1.docker.io"
	repo := ref
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		// A first segment with a dot or port is a registry host.
		first := ref[:i]
		if strings.ContainsAny(first, ".:") || first == "localhost" {
			host = first
			repo = ref[i+1:]
		}
	}
	if host == "docker.io" || host == "index.docker.io" {
		host = "registry-1.docker.io"
	}
	if host == "registry-1.docker.io" && !strings.Contains(repo, "/") {
		repo = "library/" + repo
	}
	if repo == "" {
		return Reference{}, errors.New(errors.ErrCodeInvalidTarget, "no repository in image reference: %s", canonicalID)
	}
	return Reference{Host: host, Repo: repo, Tag: tag}, nil
}
