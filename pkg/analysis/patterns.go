package analysis

import (
	"regexp"
	"strings"
)

// pattern pairs a compiled expression with the category it evidences.
type pattern struct {
	category Category
	detail   string
	re       *regexp.Regexp
}

// jsPatterns cover JavaScript and TypeScript sources.
var jsPatterns = []pattern{
	{CategoryDynamicEval, "eval()", regexp.MustCompile(`\beval\s*\(`)},
	{CategoryDynamicEval, "new Function()", regexp.MustCompile(`\bnew\s+Function\s*\(`)},
	{CategoryDynamicEval, "vm module", regexp.MustCompile(`require\s*\(\s*['"]vm['"]\s*\)|from\s+['"]vm['"]`)},
	{CategoryProcessSpawn, "child_process", regexp.MustCompile(`require\s*\(\s*['"]child_process['"]\s*\)|from\s+['"]child_process['"]`)},
	{CategoryProcessSpawn, "spawn/exec call", regexp.MustCompile(`\b(?:spawn|execFile|execSync|spawnSync)\s*\(`)},
	{CategoryNetwork, "fetch()", regexp.MustCompile(`\bfetch\s*\(`)},
	{CategoryNetwork, "http client", regexp.MustCompile(`require\s*\(\s*['"](?:https?|net|dgram)['"]\s*\)|from\s+['"](?:https?|net|dgram)['"]`)},
	{CategoryNetwork, "axios", regexp.MustCompile(`\baxios\s*[.(]`)},
	{CategoryNetwork, "websocket", regexp.MustCompile(`\bnew\s+WebSocket\s*\(`)},
	{CategoryFilesystem, "fs module", regexp.MustCompile(`require\s*\(\s*['"]fs(?:/promises)?['"]\s*\)|from\s+['"]fs(?:/promises)?['"]`)},
	{CategoryFilesystem, "file write", regexp.MustCompile(`\b(?:writeFile|writeFileSync|appendFile|unlink|rmdir|mkdir)\s*\(`)},
}

// pyPatterns cover Python sources.
var pyPatterns = []pattern{
	{CategoryDynamicEval, "eval/exec", regexp.MustCompile(`\b(?:eval|exec|compile)\s*\(`)},
	{CategoryDynamicEval, "dynamic import", regexp.MustCompile(`\b__import__\s*\(|importlib\.import_module\s*\(`)},
	{CategoryProcessSpawn, "subprocess", regexp.MustCompile(`\bsubprocess\.|\bos\.system\s*\(|\bos\.popen\s*\(|\bos\.exec[a-z]*\s*\(`)},
	{CategoryNetwork, "http client", regexp.MustCompile(`\b(?:requests|httpx|aiohttp|urllib3?)\.|\burllib\.request\b`)},
	{CategoryNetwork, "socket", regexp.MustCompile(`\bsocket\.socket\s*\(`)},
	{CategoryFilesystem, "open()", regexp.MustCompile(`\bopen\s*\([^)]*['"][wa]`)},
	{CategoryFilesystem, "file removal", regexp.MustCompile(`\bos\.(?:remove|unlink|rmdir)\s*\(|\bshutil\.rmtree\s*\(`)},
}

// PatternInspector scans JavaScript, TypeScript, and Python sources with
// regular expressions. Coarser than a parser but languages without one
// in the standard toolchain still get coverage.
type PatternInspector struct{}

// Supports reports whether the inspector handles the file.
func (PatternInspector) Supports(path string) bool {
	return patternsFor(path) != nil
}

func patternsFor(path string) []pattern {
	switch {
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".mjs"),
		strings.HasSuffix(path, ".cjs"), strings.HasSuffix(path, ".ts"):
		return jsPatterns
	case strings.HasSuffix(path, ".py"):
		return pyPatterns
	}
	return nil
}

// Inspect matches line by line so findings carry line numbers. Comments
// are not stripped; a commented-out eval still signals intent worth a
// reviewer's attention.
func (PatternInspector) Inspect(path, source string) Findings {
	patterns := patternsFor(path)
	if patterns == nil {
		return nil
	}

	var out Findings
	for lineNo, line := range strings.Split(source, "\n") {
		for _, p := range patterns {
			if p.re.MatchString(line) {
				out = append(out, Finding{
					Category: p.category,
					File:     path,
					Line:     lineNo + 1,
					Detail:   p.detail,
				})
			}
		}
	}
	return out
}
