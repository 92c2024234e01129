package rank

import (
	"math"
	"path"
	"sort"
	"strings"
)

var resolveExts = []string{"", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".py", ".go", ".rs", "/index.ts", "/index.js", "/__init__.py"}

// Graph is a file-level import graph.
type Graph struct {
	in  map[string]int
	out map[string]int
}

// BuildGraph resolves each file's imports against the project's own files.
// Relative specifiers resolve against the importing file; package-style
// specifiers resolve to every file of a directory whose path ends the
// specifier (Go packages) or to a dotted module path (Python).
func BuildGraph(imports map[string][]string) *Graph {
	files := make(map[string]bool, len(imports))
	byDir := map[string][]string{}
	for f := range imports {
		files[f] = true
		byDir[path.Dir(f)] = append(byDir[path.Dir(f)], f)
	}
	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	g := &Graph{in: map[string]int{}, out: map[string]int{}}
	type edge struct{ from, to string }
	seen := map[edge]bool{}
	add := func(from, to string) {
		e := edge{from, to}
		if from == to || seen[e] {
			return
		}
		seen[e] = true
		g.out[from]++
		g.in[to]++
	}

	for from, specs := range imports {
		for _, spec := range specs {
			for _, to := range resolveImport(from, spec, files, byDir, dirs) {
				add(from, to)
			}
		}
	}
	return g
}

func resolveImport(from, spec string, files map[string]bool, byDir map[string][]string, dirs []string) []string {
	spec = strings.Trim(spec, `"'`)
	if spec == "" {
		return nil
	}

	if strings.HasPrefix(spec, ".") {
		base := path.Clean(path.Join(path.Dir(from), spec))
		if t := firstExisting(base, files); t != "" {
			return []string{t}
		}
		return nil
	}

	if !strings.Contains(spec, "/") && strings.Contains(spec, ".") {
		if t := firstExisting(strings.ReplaceAll(spec, ".", "/"), files); t != "" {
			return []string{t}
		}
	}
	if t := firstExisting(spec, files); t != "" {
		return []string{t}
	}

	for _, d := range dirs {
		if d == "." {
			continue
		}
		if spec == d || strings.HasSuffix(spec, "/"+d) {
			return byDir[d]
		}
	}
	return nil
}

func firstExisting(base string, files map[string]bool) string {
	for _, ext := range resolveExts {
		if files[base+ext] {
			return base + ext
		}
	}
	return ""
}

// Degree returns the in and out degree of file.
func (g *Graph) Degree(file string) (in, out int) {
	if g == nil {
		return 0, 0
	}
	return g.in[file], g.out[file]
}

// degreeBoost is 1 + min(0.4, ln(in*1.5 + out + 1) * 0.1).
func degreeBoost(in, out int) float64 {
	return 1 + math.Min(0.4, math.Log(float64(in)*1.5+float64(out)+1)*0.1)
}
