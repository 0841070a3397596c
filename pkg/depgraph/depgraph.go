// Package depgraph extracts declared dependency edges from package
// manifests. Each supported manifest dialect has its own parser; the
// results are merged and deduplicated per (library, ecosystem) pair.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/toolharbor/toolharbor/pkg/catalog"
)

// parserFor maps manifest filenames to their dialect parser.
var parserFor = map[string]func([]byte) ([]catalog.DependencyEdge, error){
	"package.json":     parsePackageJSON,
	"pyproject.toml":   parsePyproject,
	"requirements.txt": parseRequirements,
	"go.mod":           parseGoMod,
}

// Extract parses every recognized manifest and returns the deduplicated
// edge set. A malformed manifest contributes a warning, not a failure;
// edges from the remaining manifests still count.
func Extract(manifests map[string][]byte) ([]catalog.DependencyEdge, []string) {
	var edges []catalog.DependencyEdge
	var warnings []string

	// Stable manifest order keeps dedupe deterministic.
	names := make([]string, 0, len(manifests))
	for name := range manifests {
		if _, ok := parserFor[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		parsed, err := parserFor[name](manifests[name])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("malformed %s: %v", name, err))
			continue
		}
		edges = append(edges, parsed...)
	}
	return dedupe(edges), warnings
}

// dedupe collapses edges sharing (library, ecosystem), keeping the most
// specific constraint and the most restrictive dependency type seen.
func dedupe(edges []catalog.DependencyEdge) []catalog.DependencyEdge {
	type key struct{ library, ecosystem string }
	index := make(map[key]int)
	var out []catalog.DependencyEdge

	for _, e := range edges {
		k := key{strings.ToLower(e.Library), e.Ecosystem}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, e)
			continue
		}
		if constraintSpecificity(e.Constraint) > constraintSpecificity(out[i].Constraint) {
			out[i].Constraint = e.Constraint
		}
		if e.Type.MoreRestrictive(out[i].Type) {
			out[i].Type = e.Type
		}
	}
	return out
}

// constraintSpecificity ranks version constraints: an exact pin beats a
// bounded range beats a wildcard beats nothing.
func constraintSpecificity(c string) int {
	c = strings.TrimSpace(c)
	switch {
	case c == "" || c == "*" || c == "latest":
		return 0
	case strings.ContainsAny(c, "^~><*x"):
		return 1
	default:
		return 2
	}
}
