package selection

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// FileKind is the classification of a changed file.
type FileKind int

const (
	// KindSource is any file that is neither configuration nor infrastructure.
	KindSource FileKind = iota
	// KindConfig is an application configuration file.
	KindConfig
	// KindInfrastructure is a build, CI or container descriptor.
	KindInfrastructure
)

func (k FileKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "source"
	}
}

// DefaultConfigPatterns match configuration files.
var DefaultConfigPatterns = []string{
	"*.json",
	"*.yaml",
	"*.yml",
	"*.toml",
	"*.ini",
	"*.conf",
	"*.config",
	"*.properties",
	"*.env",
	".env",
	".env.*",
}

// DefaultInfrastructurePatterns match build and container descriptors.
var DefaultInfrastructurePatterns = []string{
	"Dockerfile",
	"Dockerfile.*",
	"*.dockerfile",
	"docker-compose*.yml",
	"docker-compose*.yaml",
	".dockerignore",
	"Makefile",
	"*.mk",
	"Jenkinsfile",
	".gitlab-ci.yml",
	".github/**",
	".circleci/**",
	"*.tf",
	"*.hcl",
	"*.csproj",
	"*.sln",
	"BUILD",
	"BUILD.bazel",
	"WORKSPACE",
	"go.sum",
}

// DefaultExemptPatterns match files that are always treated as source,
// whatever their extension.
var DefaultExemptPatterns = []string{
	"**/testdata/**",
	"testdata/**",
}

// Classifier sorts changed files into source, config and infrastructure.
//
// A pattern without a slash is matched against the file's base name; a
// pattern with a slash is matched against the whole slash-separated path.
// Infrastructure patterns are checked before config patterns, so
// docker-compose.yml is infrastructure.
type Classifier struct {
	config         []string
	infrastructure []string
	exempt         []string
}

// NewClassifier builds a classifier. Nil pattern lists fall back to the defaults.
func NewClassifier(configPatterns, infrastructurePatterns []string) *Classifier {
	if configPatterns == nil {
		configPatterns = DefaultConfigPatterns
	}
	if infrastructurePatterns == nil {
		infrastructurePatterns = DefaultInfrastructurePatterns
	}
	return &Classifier{
		config:         configPatterns,
		infrastructure: infrastructurePatterns,
		exempt:         DefaultExemptPatterns,
	}
}

// Classify returns the kind of a repository-relative path.
func (c *Classifier) Classify(file string) FileKind {
	p := strings.TrimPrefix(path.Clean(strings.ReplaceAll(file, "\\", "/")), "./")
	if matchAny(c.exempt, p) {
		return KindSource
	}
	if matchAny(c.infrastructure, p) {
		return KindInfrastructure
	}
	if matchAny(c.config, p) {
		return KindConfig
	}
	return KindSource
}

// Filter drops config and infrastructure files unless the options keep them.
// The input is not modified.
func (c *Classifier) Filter(files []string, includeConfig, includeInfrastructure bool) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		switch c.Classify(f) {
		case KindConfig:
			if !includeConfig {
				continue
			}
		case KindInfrastructure:
			if !includeInfrastructure {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

func matchAny(patterns []string, p string) bool {
	base := path.Base(p)
	for _, pattern := range patterns {
		target := p
		if !strings.Contains(pattern, "/") {
			target = base
		}
		// Malformed patterns never match.
		if ok, err := doublestar.Match(pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}
