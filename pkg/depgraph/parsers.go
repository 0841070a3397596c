package depgraph

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/toolharbor/toolharbor/pkg/catalog"
)

func parsePackageJSON(data []byte) ([]catalog.DependencyEdge, error) {
	var manifest struct {
		Dependencies     map[string]string `json:"dependencies"`
		DevDependencies  map[string]string `json:"devDependencies"`
		PeerDependencies map[string]string `json:"peerDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}

	var edges []catalog.DependencyEdge
	add := func(deps map[string]string, t catalog.DependencyType) {
		for name, constraint := range deps {
			edges = append(edges, catalog.DependencyEdge{
				Library: name, Ecosystem: "npm", Constraint: constraint, Type: t,
			})
		}
	}
	add(manifest.Dependencies, catalog.DepRuntime)
	add(manifest.DevDependencies, catalog.DepDev)
	add(manifest.PeerDependencies, catalog.DepPeer)
	return edges, nil
}

func parsePyproject(data []byte) ([]catalog.DependencyEdge, error) {
	var manifest struct {
		Project struct {
			Dependencies         []string            `toml:"dependencies"`
			OptionalDependencies map[string][]string `toml:"optional-dependencies"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}

	var edges []catalog.DependencyEdge
	for _, spec := range manifest.Project.Dependencies {
		if e, ok := parseRequirementLine(spec, catalog.DepRuntime); ok {
			edges = append(edges, e)
		}
	}
	for _, specs := range manifest.Project.OptionalDependencies {
		for _, spec := range specs {
			if e, ok := parseRequirementLine(spec, catalog.DepDev); ok {
				edges = append(edges, e)
			}
		}
	}
	for name, v := range manifest.Tool.Poetry.Dependencies {
		if strings.EqualFold(name, "python") {
			continue
		}
		constraint := ""
		if s, ok := v.(string); ok {
			constraint = s
		}
		edges = append(edges, catalog.DependencyEdge{
			Library: name, Ecosystem: "pypi", Constraint: constraint, Type: catalog.DepRuntime,
		})
	}
	return edges, nil
}

func parseRequirements(data []byte) ([]catalog.DependencyEdge, error) {
	var edges []catalog.DependencyEdge
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if e, ok := parseRequirementLine(line, catalog.DepRuntime); ok {
			edges = append(edges, e)
		}
	}
	return edges, scanner.Err()
}

// requirementPattern splits a PEP 508 specifier into name, extras, and
// version constraint, dropping environment markers.
var requirementPattern = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:\[[^\]]*\])?\s*([<>=!~][^;#]*)?`)

func parseRequirementLine(line string, t catalog.DependencyType) (catalog.DependencyEdge, bool) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	m := requirementPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil || m[1] == "" {
		return catalog.DependencyEdge{}, false
	}
	return catalog.DependencyEdge{
		Library:    m[1],
		Ecosystem:  "pypi",
		Constraint: strings.TrimSpace(m[2]),
		Type:       t,
	}, true
}

func parseGoMod(data []byte) ([]catalog.DependencyEdge, error) {
	var edges []catalog.DependencyEdge
	scanner := bufio.NewScanner(bytes.NewReader(data))
	inRequire := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "require ("):
			inRequire = true
			continue
		case inRequire && line == ")":
			inRequire = false
			continue
		}

		var spec string
		if inRequire {
			spec = line
		} else if after, ok := strings.CutPrefix(line, "require "); ok {
			spec = after
		} else {
			continue
		}

		indirect := strings.Contains(spec, "// indirect")
		if i := strings.Index(spec, "//"); i >= 0 {
			spec = spec[:i]
		}
		fields := strings.Fields(spec)
		if len(fields) < 2 {
			continue
		}

		t := catalog.DepRuntime
		if indirect {
			t = catalog.DepPeer
		}
		edges = append(edges, catalog.DependencyEdge{
			Library: fields[0], Ecosystem: "go", Constraint: fields[1], Type: t,
		})
	}
	return edges, scanner.Err()
}
