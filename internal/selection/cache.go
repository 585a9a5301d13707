package selection

import (
	"sort"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/boshu2/safetest/internal/types"
)

// AnalysisCache memoizes impact analyses by change set. It is safe for
// concurrent use; the key ignores path order and duplicates.
type AnalysisCache struct {
	entries *xsync.MapOf[string, types.ImpactAnalysis]
}

// NewAnalysisCache creates an empty cache.
func NewAnalysisCache() *AnalysisCache {
	return &AnalysisCache{entries: xsync.NewMapOf[string, types.ImpactAnalysis]()}
}

// Get returns a copy of the cached analysis for paths.
func (c *AnalysisCache) Get(paths []string) (types.ImpactAnalysis, bool) {
	a, ok := c.entries.Load(cacheKey(paths))
	if !ok {
		return types.ImpactAnalysis{}, false
	}
	return cloneAnalysis(a), true
}

// Put stores a copy of analysis for paths, replacing any previous entry.
func (c *AnalysisCache) Put(paths []string, analysis types.ImpactAnalysis) {
	c.entries.Store(cacheKey(paths), cloneAnalysis(analysis))
}

// Len returns the number of cached analyses.
func (c *AnalysisCache) Len() int {
	return c.entries.Size()
}

// Clear drops every entry.
func (c *AnalysisCache) Clear() {
	c.entries.Clear()
}

func cacheKey(paths []string) string {
	return strings.Join(sortedUnique(paths), "\x00")
}

func cloneAnalysis(a types.ImpactAnalysis) types.ImpactAnalysis {
	a.AffectedTests = append([]string(nil), a.AffectedTests...)
	a.AllTests = append([]string(nil), a.AllTests...)
	a.Metadata.Warnings = append([]string(nil), a.Metadata.Warnings...)
	return a
}

// sortedUnique returns a sorted copy of in without duplicates or blanks.
func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
