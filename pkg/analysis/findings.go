// Package analysis performs static security analysis over retrieved
// source files. Code is parsed and pattern-matched, never executed,
// compiled, or imported.
package analysis

// Category classifies what a finding evidences.
type Category string

const (
	CategoryDynamicEval  Category = "dynamic_eval"
	CategoryProcessSpawn Category = "process_spawn"
	CategoryNetwork      Category = "network"
	CategoryFilesystem   Category = "filesystem"
)

// Finding is one piece of evidence from a source file.
type Finding struct {
	Category Category `json:"category" bson:"category"`
	File     string   `json:"file" bson:"file"`
	Line     int      `json:"line,omitempty" bson:"line,omitempty"`
	Detail   string   `json:"detail" bson:"detail"`
}

// Findings aggregates evidence across all inspected files.
type Findings []Finding

// Has reports whether any finding falls in the category.
func (f Findings) Has(c Category) bool {
	for _, finding := range f {
		if finding.Category == c {
			return true
		}
	}
	return false
}

// ByCategory groups findings for report rendering.
func (f Findings) ByCategory() map[Category][]Finding {
	out := make(map[Category][]Finding)
	for _, finding := range f {
		out[finding.Category] = append(out[finding.Category], finding)
	}
	return out
}
