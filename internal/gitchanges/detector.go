// Package gitchanges lists the files a change touches, using go-git so no
// git binary is required.
package gitchanges

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"
)

// DefaultSinceRef is compared against HEAD when no reference is given.
const DefaultSinceRef = "HEAD~1"

// Detector reports changed files in the repository containing dir.
type Detector struct {
	dir   string
	scope string
	log   logrus.FieldLogger
}

// Option configures a Detector.
type Option func(*Detector)

// WithScope limits results to files under dir, reported relative to dir.
// Use it when the project root is a subdirectory of the work tree.
func WithScope(dir string) Option {
	return func(d *Detector) { d.scope = dir }
}

// NewDetector returns a detector for the repository containing dir. A nil
// logger discards output.
func NewDetector(dir string, log logrus.FieldLogger, opts ...Option) *Detector {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	d := &Detector{dir: dir, log: log}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(d.dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, d.dir)
		}
		return nil, fmt.Errorf("open repository %s: %w", d.dir, err)
	}
	return repo, nil
}

// Root returns the work tree root of the repository.
func (d *Detector) Root() (string, error) {
	repo, err := d.open()
	if err != nil {
		return "", err
	}
	return worktreeRoot(repo)
}

func worktreeRoot(repo *git.Repository) (string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// scoped rewrites work-tree paths relative to the scope directory and drops
// paths outside it. Without a scope files are returned unchanged.
func (d *Detector) scoped(repo *git.Repository, files []string) ([]string, error) {
	if d.scope == "" {
		return files, nil
	}
	root, err := worktreeRoot(repo)
	if err != nil {
		return nil, err
	}
	prefix, err := relativeTo(root, d.scope)
	if err != nil {
		return nil, err
	}
	if prefix == "." {
		return files, nil
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		if rest, ok := strings.CutPrefix(f, prefix+"/"); ok {
			out = append(out, rest)
		}
	}
	if dropped := len(files) - len(out); dropped > 0 {
		d.log.WithFields(logrus.Fields{"scope": prefix, "dropped": dropped}).Debug("ignored changes outside scope")
	}
	return out, nil
}

// relativeTo returns dir relative to root as a slash path, resolving
// symlinks so temp dirs and their real paths compare equal.
func relativeTo(root, dir string) (string, error) {
	resolve := func(p string) string {
		abs, err := filepath.Abs(p)
		if err != nil {
			return p
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			return resolved
		}
		return abs
	}
	rel, err := filepath.Rel(resolve(root), resolve(dir))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorktree, dir)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorktree, dir)
	}
	return rel, nil
}

// ListChangedFiles returns the files that differ between sinceRef and HEAD,
// plus uncommitted changes. An empty sinceRef means DefaultSinceRef; when
// HEAD has no parent every committed file counts as changed.
func (d *Detector) ListChangedFiles(ctx context.Context, sinceRef string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := d.open()
	if err != nil {
		return nil, err
	}

	committed, err := d.committedChanges(ctx, repo, sinceRef)
	if err != nil {
		return nil, err
	}
	uncommitted, err := uncommittedChanges(repo)
	if err != nil {
		return nil, err
	}

	files, err := d.scoped(repo, sortedUnique(append(committed, uncommitted...)))
	if err != nil {
		return nil, err
	}
	d.log.WithFields(logrus.Fields{
		"since":       sinceRefOrDefault(sinceRef),
		"committed":   len(committed),
		"uncommitted": len(uncommitted),
	}).Debug("listed changed files")
	return files, nil
}

// ListUncommittedChanges returns staged, unstaged and untracked paths.
func (d *Detector) ListUncommittedChanges(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := d.open()
	if err != nil {
		return nil, err
	}
	files, err := uncommittedChanges(repo)
	if err != nil {
		return nil, err
	}
	return d.scoped(repo, sortedUnique(files))
}

func (d *Detector) committedChanges(ctx context.Context, repo *git.Repository, sinceRef string) ([]string, error) {
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// No commits yet.
			return nil, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	headTree, err := treeAt(repo, head.Hash())
	if err != nil {
		return nil, err
	}

	ref := sinceRefOrDefault(sinceRef)
	var baseTree *object.Tree
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	switch {
	case err == nil:
		if baseTree, err = treeAt(repo, *hash); err != nil {
			return nil, err
		}
	case sinceRef == "" && isRootCommit(repo, head.Hash()):
		// HEAD~1 of a root commit: compare against the empty tree.
		d.log.Debug("HEAD has no parent, comparing against the empty tree")
	default:
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownRef, ref, err)
	}

	changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff %s..HEAD: %w", ref, err)
	}
	var files []string
	for _, ch := range changes {
		if ch.From.Name != "" {
			files = append(files, ch.From.Name)
		}
		if ch.To.Name != "" {
			files = append(files, ch.To.Name)
		}
	}
	return files, nil
}

func treeAt(repo *git.Repository, hash plumbing.Hash) (*object.Tree, error) {
	c, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree of %s: %w", hash, err)
	}
	return tree, nil
}

func isRootCommit(repo *git.Repository, hash plumbing.Hash) bool {
	c, err := repo.CommitObject(hash)
	return err == nil && c.NumParents() == 0
}

func uncommittedChanges(repo *git.Repository) ([]string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	var files []string
	for path, st := range status {
		if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

func sinceRefOrDefault(ref string) string {
	if strings.TrimSpace(ref) == "" {
		return DefaultSinceRef
	}
	return ref
}

func sortedUnique(files []string) []string {
	sort.Strings(files)
	out := make([]string, 0, len(files))
	for _, f := range files {
		if len(out) > 0 && out[len(out)-1] == f {
			continue
		}
		out = append(out, f)
	}
	return out
}
