// Package impact is the default impact analyzer for Go modules. Tests are
// identified by the import path of a package with _test.go files, and a
// change affects every test package that is, or transitively imports, a
// changed package.
package impact

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-zglob"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/mod/modfile"
	"golang.org/x/sync/singleflight"

	"github.com/boshu2/safetest/internal/types"
)

// Strategy is reported in ImpactAnalysis metadata.
const Strategy = "go-imports"

// moduleWide files change the build of every package.
var moduleWide = map[string]bool{"go.mod": true, "go.sum": true, "go.work": true, "go.work.sum": true}

// Analyzer scans a module rooted at a directory. Graphs are built once per
// root and reused; concurrent scans of the same root are collapsed.
type Analyzer struct {
	root   string
	log    logrus.FieldLogger
	graphs *xsync.MapOf[string, *Graph]
	scans  singleflight.Group
}

// NewAnalyzer returns an analyzer for the module at root. Changed paths
// given to AnalyzeImpact are relative to root.
func NewAnalyzer(root string, log logrus.FieldLogger) *Analyzer {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Analyzer{
		root:   root,
		log:    log,
		graphs: xsync.NewMapOf[string, *Graph](),
	}
}

// DiscoverAllTests lists every test package under root.
func (a *Analyzer) DiscoverAllTests(ctx context.Context, root string) ([]string, error) {
	g, err := a.graph(ctx, root)
	if err != nil {
		return nil, err
	}
	return g.Tests(), nil
}

// BuildDependencyGraph returns the import graph of the module at root.
func (a *Analyzer) BuildDependencyGraph(ctx context.Context, root string) (types.DependencyGraph, error) {
	g, err := a.graph(ctx, root)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// AnalyzeImpact maps changed paths to the test packages that cover them
// directly: a changed package's own tests, or the tests of its direct
// importers when it has none. Transitive dependents are left to the
// caller's dependency graph. Confidence is the fraction of paths that could
// be attributed to a package; the rest are reported as warnings.
func (a *Analyzer) AnalyzeImpact(ctx context.Context, paths []string) (types.ImpactAnalysis, error) {
	start := time.Now()
	g, err := a.graph(ctx, a.root)
	if err != nil {
		return types.ImpactAnalysis{}, err
	}
	all := g.Tests()

	var warnings []string
	changed := make(map[string]struct{})
	mapped := 0
	everything := false
	for _, p := range paths {
		rel := path.Clean(filepath.ToSlash(p))
		if moduleWide[rel] {
			everything = true
			mapped++
			continue
		}
		owner, ok := g.owner(rel)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("no Go package owns %s", rel))
			continue
		}
		mapped++
		changed[owner.importPath] = struct{}{}
	}

	var affected []string
	if everything {
		affected = all
	} else {
		seen := make(map[string]struct{})
		for ip := range changed {
			for _, candidate := range g.directTests(ip) {
				if _, ok := seen[candidate]; !ok {
					seen[candidate] = struct{}{}
					affected = append(affected, candidate)
				}
			}
		}
	}

	confidence := 1.0
	if len(paths) > 0 {
		confidence = float64(mapped) / float64(len(paths))
	}

	analysis := types.ImpactAnalysis{
		AffectedTests: sortStrings(affected),
		AllTests:      all,
		Confidence:    confidence,
		Metadata: types.AnalysisMetadata{
			Strategy: Strategy,
			Duration: time.Since(start),
			Warnings: warnings,
		},
	}
	a.log.WithFields(logrus.Fields{
		"changed":    len(paths),
		"packages":   len(changed),
		"affected":   len(analysis.AffectedTests),
		"confidence": confidence,
	}).Debug("impact analysis complete")
	return analysis, nil
}

func (a *Analyzer) graph(ctx context.Context, root string) (*Graph, error) {
	if g, ok := a.graphs.Load(root); ok {
		return g, nil
	}
	v, err, _ := a.scans.Do(root, func() (any, error) {
		g, err := scan(ctx, root)
		if err != nil {
			return nil, err
		}
		a.graphs.Store(root, g)
		a.log.WithFields(logrus.Fields{
			"root":     root,
			"packages": len(g.packages),
			"tests":    len(g.Tests()),
		}).Debug("dependency graph built")
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}

// FindModuleRoot returns the nearest directory at or above dir that holds a
// go.mod file.
func FindModuleRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	for cur := abs; ; {
		if info, err := os.Stat(filepath.Join(cur, "go.mod")); err == nil && !info.IsDir() {
			return cur, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("%w: no go.mod at or above %s", ErrNoModule, abs)
		}
		cur = parent
	}
}

// scan parses the import blocks of every Go file in the module.
func scan(ctx context.Context, root string) (*Graph, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoModule, err)
	}
	modulePath := modfile.ModulePath(data)
	if modulePath == "" {
		return nil, fmt.Errorf("%w: go.mod in %s has no module directive", ErrNoModule, root)
	}

	files, err := goFiles(root)
	if err != nil {
		return nil, err
	}

	g := newGraph(modulePath)
	fset := token.NewFileSet()
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, file)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if ignored(rel) {
			continue
		}

		f, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		if err != nil {
			return nil, fmt.Errorf("parse imports of %s: %w", rel, err)
		}
		p := g.pkgForDir(parentDir(rel))
		if strings.HasSuffix(rel, "_test.go") {
			p.hasTests = true
		}
		for _, spec := range f.Imports {
			imp, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				continue
			}
			if imp == modulePath || strings.HasPrefix(imp, modulePath+"/") {
				p.imports[imp] = struct{}{}
			}
		}
	}
	g.link()
	return g, nil
}

// goFiles lists every .go file under root, sorted.
func goFiles(root string) ([]string, error) {
	nested, err := zglob.Glob(filepath.Join(root, "**", "*.go"))
	if err != nil {
		return nil, fmt.Errorf("list Go files under %s: %w", root, err)
	}
	top, err := filepath.Glob(filepath.Join(root, "*.go"))
	if err != nil {
		return nil, fmt.Errorf("list Go files in %s: %w", root, err)
	}
	seen := make(map[string]struct{}, len(nested)+len(top))
	var out []string
	for _, f := range append(top, nested...) {
		f = filepath.Clean(f)
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// ignored mirrors the go tool: vendor, testdata and directories starting
// with "." or "_" hold no packages of the module. Nested modules are not
// detected.
func ignored(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if dir == "vendor" || dir == "testdata" || strings.HasPrefix(dir, ".") || strings.HasPrefix(dir, "_") {
			return true
		}
	}
	return false
}

func parentDir(rel string) string {
	return path.Dir(rel)
}

func sortStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
