package analysis

import (
	"github.com/toolharbor/toolharbor/pkg/catalog"
)

// SyntaxInspector examines one source file and reports evidence. An
// inspector never returns an error: unparseable input yields no
// findings, keeping a single broken file from blanking the whole report.
type SyntaxInspector interface {
	Supports(path string) bool
	Inspect(path, source string) Findings
}

// Report is the outcome of analyzing one package's sources.
type Report struct {
	Risk     catalog.RiskLevel `json:"risk" bson:"risk"`
	Findings Findings          `json:"findings,omitempty" bson:"findings,omitempty"`

	// FilesInspected counts sources at least one inspector handled.
	FilesInspected int `json:"files_inspected" bson:"files_inspected"`
}

// Analyzer runs the registered inspectors and applies the risk decision
// table.
type Analyzer struct {
	inspectors []SyntaxInspector
}

// NewAnalyzer builds an analyzer with the default inspectors: the Go
// parser and the pattern scanner for JavaScript, TypeScript, and Python.
func NewAnalyzer() *Analyzer {
	return &Analyzer{inspectors: []SyntaxInspector{GoInspector{}, PatternInspector{}}}
}

// NewAnalyzerWith builds an analyzer from explicit inspectors.
func NewAnalyzerWith(inspectors ...SyntaxInspector) *Analyzer {
	return &Analyzer{inspectors: inspectors}
}

// Analyze inspects every supported source and classifies the result.
//
// The decision table, most severe first:
//
//	dynamic eval anywhere                 -> critical
//	process spawn anywhere                -> high, or moderate when the
//	                                         artifact is verified
//	any other finding                     -> moderate
//	findings empty, files inspected       -> safe
//	nothing inspectable                   -> unknown
//
// Verification never demotes critical: an official eval is still an eval.
func (a *Analyzer) Analyze(sources map[string]string, verified bool) Report {
	var report Report
	for path, source := range sources {
		inspected := false
		for _, ins := range a.inspectors {
			if !ins.Supports(path) {
				continue
			}
			inspected = true
			report.Findings = append(report.Findings, ins.Inspect(path, source)...)
		}
		if inspected {
			report.FilesInspected++
		}
	}

	report.Risk = classify(report, verified)
	return report
}

func classify(r Report, verified bool) catalog.RiskLevel {
	f := r.Findings
	switch {
	case f.Has(CategoryDynamicEval):
		return catalog.RiskCritical
	case f.Has(CategoryProcessSpawn):
		if verified {
			return catalog.RiskModerate
		}
		return catalog.RiskHigh
	case len(f) > 0:
		return catalog.RiskModerate
	case r.FilesInspected > 0:
		return catalog.RiskSafe
	default:
		return catalog.RiskUnknown
	}
}
