package npm

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"path"
	"strings"

	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/fetch"
)

// maxSourceFiles bounds how many source files the unpacker keeps. Entry
// points and their siblings are enough for static analysis; whole trees
// are never needed.
const maxSourceFiles = 50

// perFileLimit bounds any single kept file.
const perFileLimit = 5 << 20 // 5 MB

// unpacked holds the files extracted from a registry tarball.
type unpacked struct {
	Manifests map[string][]byte
	Sources   map[string][]byte
}

// manifestNames are kept as manifests wherever they appear at the
// package root.
var manifestNames = map[string]bool{
	"package.json":     true,
	"pyproject.toml":   true,
	"requirements.txt": true,
	"go.mod":           true,
}

var sourceExts = map[string]bool{
	".js": true, ".mjs": true, ".cjs": true, ".ts": true, ".py": true, ".go": true,
}

// unpackTarball expands a gzipped registry tarball in memory, keeping
// root manifests and source files. ceiling caps cumulative decompressed
// bytes; crossing it aborts with DECOMPRESSION_BOMB since a hostile
// archive can expand far beyond its download size.
func unpackTarball(r io.Reader, ceiling int64) (*unpacked, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedManifest, err, "gzip header")
	}
	defer gz.Close()

	out := &unpacked{
		Manifests: make(map[string][]byte),
		Sources:   make(map[string][]byte),
	}

	budget := ceiling
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMalformedManifest, err, "tar entry")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		// Declared sizes already over budget fail before reading a byte.
		if hdr.Size > budget {
			return nil, bombErr(ceiling)
		}

		name := normalizeEntryName(hdr.Name)
		keepManifest := manifestNames[name]
		keepSource := !keepManifest && wantSource(name) && len(out.Sources) < maxSourceFiles

		if !keepManifest && !keepSource {
			n, err := io.Copy(io.Discard, io.LimitReader(tr, budget+1))
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeMalformedManifest, err, "tar entry %s", name)
			}
			if n > budget {
				return nil, bombErr(ceiling)
			}
			budget -= n
			continue
		}

		limit := min(budget, perFileLimit)
		data, err := io.ReadAll(io.LimitReader(tr, limit+1))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMalformedManifest, err, "tar entry %s", name)
		}
		if int64(len(data)) > limit {
			if limit == budget {
				return nil, bombErr(ceiling)
			}
			// Oversized source file: skip it, still accounting the bytes.
			n, _ := io.Copy(io.Discard, io.LimitReader(tr, budget))
			budget -= int64(len(data)) + n
			if budget < 0 {
				return nil, bombErr(ceiling)
			}
			continue
		}
		budget -= int64(len(data))

		if keepManifest {
			out.Manifests[name] = data
		} else {
			out.Sources[name] = data
		}
	}
}

func bombErr(ceiling int64) error {
	return errors.New(errors.ErrCodeDecompressionBomb, "archive expands beyond %s", fetch.FormatBytes(ceiling))
}

// normalizeEntryName strips the leading "package/" directory npm
// tarballs carry and cleans the path.
func normalizeEntryName(name string) string {
	name = path.Clean(strings.TrimPrefix(name, "./"))
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func wantSource(name string) bool {
	if strings.Count(name, "/") > 2 {
		return false // entry files live near the root
	}
	return sourceExts[path.Ext(name)]
}
