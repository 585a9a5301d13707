package impact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const mod = "example.com/app"

func writeModule(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"go.mod":                    "module example.com/app\n\ngo 1.22\n",
		"core/core.go":              "package core\n\nfunc Value() int { return 1 }\n",
		"core/core_test.go":         "package core\n\nimport \"testing\"\n\nfunc TestValue(t *testing.T) {}\n",
		"core/testdata/golden.json": "{}\n",
		"svc/svc.go":                "package svc\n\nimport \"example.com/app/core\"\n\nvar V = core.Value()\n",
		"svc/svc_test.go":           "package svc_test\n\nimport (\n\t\"testing\"\n\n\t\"example.com/app/svc\"\n)\n\nfunc TestSvc(t *testing.T) { _ = svc.V }\n",
		"api/api.go":                "package api\n\nimport (\n\t\"fmt\"\n\n\t\"example.com/app/model\"\n\t\"example.com/app/svc\"\n)\n\nvar S = fmt.Sprint(svc.V, model.Name)\n",
		"model/model.go":            "package model\n\nconst Name = \"m\"\n",
		"api/api_test.go":           "package api\n\nimport \"testing\"\n\nfunc TestAPI(t *testing.T) {}\n",
		"util/util.go":              "package util\n",
		"cmd/app/main.go":           "package main\n\nimport _ \"example.com/app/api\"\n\nfunc main() {}\n",
		"vendor/x/x.go":             "package x\n\nimport _ \"example.com/app/core\"\n",
		".hidden/h_test.go":         "package hidden\n",
	}
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestDiscoverAllTests(t *testing.T) {
	root := writeModule(t)
	a := NewAnalyzer(root, nil)

	got, err := a.DiscoverAllTests(context.Background(), root)
	if err != nil {
		t.Fatalf("DiscoverAllTests: %v", err)
	}
	want := []string{mod + "/api", mod + "/core", mod + "/svc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGetDependents(t *testing.T) {
	root := writeModule(t)
	g, err := NewAnalyzer(root, nil).BuildDependencyGraph(context.Background(), root)
	if err != nil {
		t.Fatalf("BuildDependencyGraph: %v", err)
	}

	tests := []struct {
		pkg  string
		want []string
	}{
		{mod + "/core", []string{mod + "/api", mod + "/cmd/app", mod + "/svc"}},
		{mod + "/svc", []string{mod + "/api", mod + "/cmd/app"}},
		{mod + "/model", []string{mod + "/api", mod + "/cmd/app"}},
		{mod + "/cmd/app", nil},
		{mod + "/unknown", nil},
	}
	for _, tt := range tests {
		if got := g.GetDependents(tt.pkg); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("GetDependents(%s) = %v, want %v", tt.pkg, got, tt.want)
		}
	}
}

func TestAnalyzeImpact(t *testing.T) {
	root := writeModule(t)
	a := NewAnalyzer(root, nil)
	all := []string{mod + "/api", mod + "/core", mod + "/svc"}

	tests := []struct {
		name       string
		paths      []string
		affected   []string
		confidence float64
		warnings   int
	}{
		{"leaf package", []string{"api/api.go"}, []string{mod + "/api"}, 1, 0},
		{"shared package reports only its own tests", []string{"core/core.go"}, []string{mod + "/core"}, 1, 0},
		{"testdata maps to enclosing package", []string{"core/testdata/golden.json"}, []string{mod + "/core"}, 1, 0},
		{"untested package maps to tested importers", []string{"model/model.go"}, []string{mod + "/api"}, 1, 0},
		{"package without tests or importers", []string{"util/util.go"}, nil, 1, 0},
		{"test file only", []string{"svc/svc_test.go"}, []string{mod + "/svc"}, 1, 0},
		{"several packages", []string{"core/core.go", "svc/svc.go"}, []string{mod + "/core", mod + "/svc"}, 1, 0},
		{"module file", []string{"go.mod"}, all, 1, 0},
		{"unowned file", []string{"docs/guide.md"}, nil, 0, 1},
		{"partly unowned", []string{"api/api.go", "docs/guide.md"}, []string{mod + "/api"}, 0.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.AnalyzeImpact(context.Background(), tt.paths)
			if err != nil {
				t.Fatalf("AnalyzeImpact: %v", err)
			}
			if len(got.AffectedTests) != len(tt.affected) || (len(tt.affected) > 0 && !reflect.DeepEqual(got.AffectedTests, tt.affected)) {
				t.Errorf("affected = %v, want %v", got.AffectedTests, tt.affected)
			}
			if !reflect.DeepEqual(got.AllTests, all) {
				t.Errorf("all = %v, want %v", got.AllTests, all)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.confidence)
			}
			if len(got.Metadata.Warnings) != tt.warnings {
				t.Errorf("warnings = %v, want %d", got.Metadata.Warnings, tt.warnings)
			}
			if got.Metadata.Strategy != Strategy {
				t.Errorf("strategy = %q", got.Metadata.Strategy)
			}
		})
	}
}

func TestGraphIsBuiltOnce(t *testing.T) {
	root := writeModule(t)
	a := NewAnalyzer(root, nil)
	first, err := a.BuildDependencyGraph(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	// New files are not seen until a new analyzer is created.
	if err := os.WriteFile(filepath.Join(root, "util", "util_test.go"), []byte("package util\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := a.BuildDependencyGraph(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the cached graph")
	}
	tests, _ := NewAnalyzer(root, nil).DiscoverAllTests(context.Background(), root)
	if len(tests) != 4 {
		t.Errorf("fresh analyzer should see the new test package, got %v", tests)
	}
}

func TestNoModule(t *testing.T) {
	root := t.TempDir()
	_, err := NewAnalyzer(root, nil).AnalyzeImpact(context.Background(), []string{"a.go"})
	if !errors.Is(err, ErrNoModule) {
		t.Errorf("expected ErrNoModule, got %v", err)
	}
}

func TestFindModuleRoot(t *testing.T) {
	root := writeModule(t)

	for _, dir := range []string{root, filepath.Join(root, "core", "testdata"), filepath.Join(root, "cmd", "app")} {
		got, err := FindModuleRoot(dir)
		if err != nil {
			t.Fatalf("FindModuleRoot(%s): %v", dir, err)
		}
		if got != root {
			t.Errorf("FindModuleRoot(%s) = %s, want %s", dir, got, root)
		}
	}

	if _, err := FindModuleRoot(t.TempDir()); !errors.Is(err, ErrNoModule) {
		t.Errorf("expected ErrNoModule outside a module, got %v", err)
	}
}

func TestIgnored(t *testing.T) {
	tests := map[string]bool{
		"a.go":              false,
		"pkg/a.go":          false,
		"vendor/x/a.go":     true,
		"pkg/testdata/a.go": true,
		".git/hooks/a.go":   true,
		"_examples/x/a.go":  true,
		"pkg/_internal.go":  false,
	}
	for rel, want := range tests {
		if got := ignored(rel); got != want {
			t.Errorf("ignored(%q) = %v, want %v", rel, got, want)
		}
	}
}
