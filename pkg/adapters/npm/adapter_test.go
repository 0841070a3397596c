package npm

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/toolharbor/toolharbor/pkg/adapters"
	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/fetch"
)

func TestPackageName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"npm://left-pad", "left-pad", true},
		{"npm://@Scope/Pkg", "@scope/pkg", true},
		{"express", "express", true},
		{"npm://", "", false},
		{"npm://has space", "", false},
	}
	for _, tt := range tests {
		got, err := PackageName(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("PackageName(%q) = (%q, %v), want (%q, ok=%v)", tt.in, got, err, tt.want, tt.ok)
		}
	}
}

// makeTarball builds a gzipped npm-style tarball with the given files
// under the conventional package/ prefix.
func makeTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{
			Name:     "package/" + name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUnpackTarball(t *testing.T) {
	data := makeTarball(t, map[string]string{
		"package.json":     `{"name":"x"}`,
		"index.js":         "module.exports = {}",
		"lib/server.ts":    "export {}",
		"deep/a/b/c/d.js":  "nope",
		"README.md":        "docs",
		"requirements.txt": "requests==2.0",
	})

	out, err := unpackTarball(bytes.NewReader(data), 1<<20)
	if err != nil {
		t.Fatalf("unpackTarball failed: %v", err)
	}
	if _, ok := out.Manifests["package.json"]; !ok {
		t.Error("expected package.json manifest")
	}
	if _, ok := out.Manifests["requirements.txt"]; !ok {
		t.Error("expected requirements.txt manifest")
	}
	if _, ok := out.Sources["index.js"]; !ok {
		t.Error("expected index.js source")
	}
	if _, ok := out.Sources["lib/server.ts"]; !ok {
		t.Error("expected lib/server.ts source")
	}
	if _, ok := out.Sources["deep/a/b/c/d.js"]; ok {
		t.Error("deeply nested file must be skipped")
	}
	if _, ok := out.Sources["README.md"]; ok {
		t.Error("non-source file must be skipped")
	}
}

func TestUnpackTarball_CumulativeCeiling(t *testing.T) {
	big := bytes.Repeat([]byte("a"), 4096)
	data := makeTarball(t, map[string]string{
		"one.js": string(big),
		"two.js": string(big),
	})

	// Ceiling admits one file but not both.
	_, err := unpackTarball(bytes.NewReader(data), 6000)
	if !errors.Is(err, errors.ErrCodeDecompressionBomb) {
		t.Fatalf("expected DECOMPRESSION_BOMB, got %v", err)
	}
}

func TestUnpackTarball_DeclaredSizeOverCeiling(t *testing.T) {
	data := makeTarball(t, map[string]string{
		"huge.bin": string(bytes.Repeat([]byte("x"), 8192)),
	})
	_, err := unpackTarball(bytes.NewReader(data), 1024)
	if !errors.Is(err, errors.ErrCodeDecompressionBomb) {
		t.Fatalf("expected DECOMPRESSION_BOMB, got %v", err)
	}
}

func TestUnpackTarball_BadGzip(t *testing.T) {
	_, err := unpackTarball(bytes.NewReader([]byte("not gzip")), 1<<20)
	if !errors.Is(err, errors.ErrCodeMalformedManifest) {
		t.Fatalf("expected MALFORMED_MANIFEST, got %v", err)
	}
}

func newTestAdapter(t *testing.T, mux *http.ServeMux, ceiling int64) *Adapter {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	httpc := fetch.NewClient(nil, fetch.Options{})
	return New(httpc, ceiling, WithRegistryURL(srv.URL), WithDownloadsURL(srv.URL))
}

func registryMux(t *testing.T, tarball []byte, unpackedSize int64) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/left-pad", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"name":      "left-pad",
			"dist-tags": map[string]string{"latest": "1.3.0"},
			"time":      map[string]string{"1.3.0": "2026-06-01T00:00:00Z"},
			"versions": map[string]any{
				"1.3.0": map[string]any{
					"description": "pads left",
					"license":     "MIT",
					"author":      map[string]any{"name": "alice"},
					"repository":  map[string]any{"url": "git+https://github.com/left-pad/left-pad.git"},
					"bin":         map[string]any{"left-pad": "./cli.js"},
					"dist": map[string]any{
						"tarball":      "http://" + r.Host + "/left-pad/-/left-pad-1.3.0.tgz",
						"unpackedSize": unpackedSize,
					},
				},
			},
		})
	})
	mux.HandleFunc("/left-pad/-/left-pad-1.3.0.tgz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(tarball)
	})
	mux.HandleFunc("/downloads/point/last-week/left-pad", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"downloads": 12345})
	})
	return mux
}

func TestFetch(t *testing.T) {
	tarball := makeTarball(t, map[string]string{
		"package.json": `{"name":"left-pad","version":"1.3.0"}`,
		"index.js":     "module.exports = leftPad",
	})
	a := newTestAdapter(t, registryMux(t, tarball, 1024), 1<<20)

	raw, err := a.Fetch(context.Background(), catalog.Target{CanonicalID: "npm://left-pad", Channel: catalog.ChannelNPM})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if raw.Meta.Name != "left-pad" || raw.Meta.Version != "1.3.0" {
		t.Errorf("unexpected meta: %+v", raw.Meta)
	}
	if raw.Meta.License != "MIT" || raw.Meta.Author != "alice" {
		t.Errorf("expected license/author extracted, got %+v", raw.Meta)
	}
	if raw.Meta.RepoURL != "https://github.com/left-pad/left-pad" {
		t.Errorf("expected normalized repo url, got %q", raw.Meta.RepoURL)
	}
	if raw.Meta.Downloads != 12345 {
		t.Errorf("expected weekly downloads, got %d", raw.Meta.Downloads)
	}
	if raw.Meta.Transport != "stdio" {
		t.Errorf("bin entry should imply stdio transport, got %q", raw.Meta.Transport)
	}
	if raw.Meta.LastPushedAt == nil {
		t.Error("expected publish timestamp")
	}
	if _, ok := raw.Manifests["package.json"]; !ok {
		t.Error("expected unpacked package.json")
	}
	if _, ok := raw.Sources["index.js"]; !ok {
		t.Error("expected unpacked index.js")
	}
}

func TestFetch_DeclaredUnpackedSizeOverCeiling(t *testing.T) {
	tarball := makeTarball(t, map[string]string{"index.js": "x"})
	a := newTestAdapter(t, registryMux(t, tarball, 600<<20), 500<<20)

	_, err := a.Fetch(context.Background(), catalog.Target{CanonicalID: "npm://left-pad"})
	if !errors.Is(err, errors.ErrCodeDecompressionBomb) {
		t.Fatalf("expected DECOMPRESSION_BOMB before download, got %v", err)
	}
}

func TestFetch_NotFound(t *testing.T) {
	a := newTestAdapter(t, http.NewServeMux(), 1<<20)
	_, err := a.Fetch(context.Background(), catalog.Target{CanonicalID: "npm://left-pad"})
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func rawWithManifest(pj string) *adapters.RawArtifact {
	return &adapters.RawArtifact{
		Target:    catalog.Target{CanonicalID: "npm://x", Channel: catalog.ChannelNPM},
		Meta:      adapters.Meta{Name: "x", Version: "0.0.1"},
		Manifests: map[string][]byte{"package.json": []byte(pj)},
	}
}

func TestParse_ManifestRefinement(t *testing.T) {
	a := New(fetch.NewClient(nil, fetch.Options{}), 0)
	parsed, err := a.Parse(context.Background(), rawWithManifest(`{"name":"real","version":"9.9.9","license":"ISC"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Meta.Name != "real" || parsed.Meta.Version != "9.9.9" {
		t.Errorf("manifest must refine meta: %+v", parsed.Meta)
	}
}

func TestParse_MalformedManifestIsWarning(t *testing.T) {
	a := New(fetch.NewClient(nil, fetch.Options{}), 0)
	parsed, err := a.Parse(context.Background(), rawWithManifest(`{broken`))
	if err != nil {
		t.Fatalf("Parse must tolerate malformed manifest: %v", err)
	}
	if len(parsed.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", parsed.Warnings)
	}
}
