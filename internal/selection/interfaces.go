package selection

import (
	"context"

	"github.com/boshu2/safetest/internal/types"
)

// ChangeDetector lists repository-relative paths that changed.
type ChangeDetector interface {
	// ListChangedFiles returns files changed since sinceRef. An empty ref
	// means "since the last commit".
	ListChangedFiles(ctx context.Context, sinceRef string) ([]string, error)

	// ListUncommittedChanges returns staged, unstaged and untracked paths.
	ListUncommittedChanges(ctx context.Context) ([]string, error)
}

// ImpactAnalyzer maps changed files onto the tests they affect.
type ImpactAnalyzer interface {
	AnalyzeImpact(ctx context.Context, paths []string) (types.ImpactAnalysis, error)
	DiscoverAllTests(ctx context.Context, root string) ([]string, error)
	BuildDependencyGraph(ctx context.Context, root string) (types.DependencyGraph, error)
}
