package gitport

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by port operations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, gitport.ErrNotRepository) {
//	    // directory is not under version control
//	}
var (
	// ErrNotRepository is returned when the managed directory is not
	// inside a git repository.
	ErrNotRepository = errors.New("not a git repository")

	// ErrGitNotAvailable is returned when the git binary is not
	// installed or not in PATH.
	ErrGitNotAvailable = errors.New("git binary not available")

	// ErrNoRemote is returned when an operation requires a remote but
	// none is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrDetached is returned when an operation requires being on a
	// branch but HEAD is detached.
	ErrDetached = errors.New("not on a branch")

	// ErrNothingToCommit is returned by CommitAndPush when the working
	// tree turned out to be clean at commit time.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrPushRejected is returned when a push is rejected by the remote,
	// typically a non-fast-forward update.
	ErrPushRejected = errors.New("push rejected by remote")
)

// ConflictError is returned by Pull when the merge produced unresolved
// conflicts. It carries the conflicted file list when git reported one,
// giving the classifier a structured signal instead of a message pattern.
type ConflictError struct {
	// Files are the working tree paths left in conflict state.
	// May be empty when git reported a failed merge without a file list.
	Files []string

	// Output is the raw git output that indicated the conflict.
	Output string
}

func (e *ConflictError) Error() string {
	if len(e.Files) == 0 {
		return "merge conflict"
	}
	return fmt.Sprintf("merge conflict in %d file(s): %s",
		len(e.Files), strings.Join(e.Files, ", "))
}
