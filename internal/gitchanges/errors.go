package gitchanges

import "errors"

var (
	// ErrNotGitRepo is returned when the directory is not inside a git work tree.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrUnknownRef is returned when a reference cannot be resolved to a commit.
	ErrUnknownRef = errors.New("unknown git reference")

	// ErrOutsideWorktree is returned when a detector scope lies outside the work tree.
	ErrOutsideWorktree = errors.New("scope is outside the git work tree")
)
