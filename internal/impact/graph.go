package impact

import (
	"sort"
)

// pkg is one Go package of the module.
type pkg struct {
	importPath string
	dir        string // slash-separated, relative to the module root; "." for the root
	hasTests   bool
	imports    map[string]struct{}
}

// Graph is the intra-module package import graph.
type Graph struct {
	modulePath string
	packages   map[string]*pkg   // by import path
	byDir      map[string]string // dir -> import path
	dependents map[string][]string
}

func newGraph(modulePath string) *Graph {
	return &Graph{
		modulePath: modulePath,
		packages:   make(map[string]*pkg),
		byDir:      make(map[string]string),
		dependents: make(map[string][]string),
	}
}

func (g *Graph) pkgForDir(dir string) *pkg {
	if ip, ok := g.byDir[dir]; ok {
		return g.packages[ip]
	}
	ip := g.modulePath
	if dir != "." {
		ip = g.modulePath + "/" + dir
	}
	p := &pkg{importPath: ip, dir: dir, imports: make(map[string]struct{})}
	g.packages[ip] = p
	g.byDir[dir] = ip
	return p
}

// link builds the reverse edges once every package is known. Imports of
// packages outside the scanned set are dropped.
func (g *Graph) link() {
	for _, p := range g.packages {
		for imp := range p.imports {
			if imp == p.importPath {
				// external test package importing its own package
				continue
			}
			if _, ok := g.packages[imp]; ok {
				g.dependents[imp] = append(g.dependents[imp], p.importPath)
			}
		}
	}
	for k := range g.dependents {
		sort.Strings(g.dependents[k])
	}
}

// ModulePath is the module the graph was built for.
func (g *Graph) ModulePath() string { return g.modulePath }

// Tests returns the import paths of every package with _test.go files.
func (g *Graph) Tests() []string {
	var out []string
	for ip, p := range g.packages {
		if p.hasTests {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}

// GetDependents returns every package that transitively imports importPath,
// sorted, excluding importPath itself.
func (g *Graph) GetDependents(importPath string) []string {
	seen := map[string]struct{}{importPath: {}}
	queue := []string{importPath}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[cur] {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	sort.Strings(out)
	return out
}

// directTests returns importPath when it has tests, otherwise its direct
// importers that have tests.
func (g *Graph) directTests(importPath string) []string {
	p, ok := g.packages[importPath]
	if !ok {
		return nil
	}
	if p.hasTests {
		return []string{importPath}
	}
	var out []string
	for _, dep := range g.dependents[importPath] {
		if g.packages[dep].hasTests {
			out = append(out, dep)
		}
	}
	return out
}

// owner returns the package owning a changed path: the package in the
// path's directory, or for a non-Go file the nearest enclosing package.
func (g *Graph) owner(relPath string) (*pkg, bool) {
	dir := parentDir(relPath)
	for {
		if ip, ok := g.byDir[dir]; ok {
			return g.packages[ip], true
		}
		if dir == "." {
			return nil, false
		}
		dir = parentDir(dir)
	}
}
