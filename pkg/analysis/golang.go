package analysis

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// goImportCategories maps import paths to the category their use
// evidences. Imports alone are treated as evidence: a package that links
// os/exec can spawn processes whether or not the entry file shows the
// call.
var goImportCategories = map[string]Category{
	"os/exec":       CategoryProcessSpawn,
	"syscall":       CategoryProcessSpawn,
	"plugin":        CategoryDynamicEval,
	"net":           CategoryNetwork,
	"net/http":      CategoryNetwork,
	"net/url":       CategoryNetwork,
	"crypto/tls":    CategoryNetwork,
	"io/ioutil":     CategoryFilesystem,
	"path/filepath": CategoryFilesystem,
}

// GoInspector inspects Go sources with the standard parser.
type GoInspector struct{}

// Supports reports whether the inspector handles the file.
func (GoInspector) Supports(path string) bool {
	return strings.HasSuffix(path, ".go")
}

// Inspect parses the file and walks its AST. A file that fails to parse
// yields no findings rather than an error; partial evidence from other
// files still counts.
func (GoInspector) Inspect(path, source string) Findings {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, source, parser.SkipObjectResolution)
	if err != nil {
		return nil
	}

	var out Findings
	for _, imp := range file.Imports {
		ipath, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if cat, ok := goImportCategories[ipath]; ok {
			out = append(out, Finding{
				Category: cat,
				File:     path,
				Line:     fset.Position(imp.Pos()).Line,
				Detail:   "import " + ipath,
			})
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		pkg, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		expr := pkg.Name + "." + sel.Sel.Name
		if cat, ok := goCallCategories[expr]; ok {
			out = append(out, Finding{
				Category: cat,
				File:     path,
				Line:     fset.Position(call.Pos()).Line,
				Detail:   expr,
			})
		}
		return true
	})
	return out
}

var goCallCategories = map[string]Category{
	"exec.Command":        CategoryProcessSpawn,
	"exec.CommandContext": CategoryProcessSpawn,
	"plugin.Open":         CategoryDynamicEval,
	"os.StartProcess":     CategoryProcessSpawn,
	"os.OpenFile":         CategoryFilesystem,
	"os.Open":             CategoryFilesystem,
	"os.Create":           CategoryFilesystem,
	"os.Remove":           CategoryFilesystem,
	"os.RemoveAll":        CategoryFilesystem,
	"os.WriteFile":        CategoryFilesystem,
	"os.ReadFile":         CategoryFilesystem,
	"http.Get":            CategoryNetwork,
	"http.Post":           CategoryNetwork,
	"net.Dial":            CategoryNetwork,
}
