// Package gitport provides a thin wrapper around the git binary for the
// auto-sync engine.
//
// The port exposes exactly the primitives the sync engine orchestrates:
// repository detection, branch lookup, merge-based pull, working tree
// inspection, commit+push, and a lightweight connectivity probe.
//
// The port is deliberately dumb: it performs no retry and no error
// interpretation. Failures surface as structured errors (sentinel values
// plus ConflictError) so the classifier in internal/autosync can decide
// what they mean.
package gitport

import "context"

// Port defines the version-control operations consumed by the sync engine.
// The production implementation is Git; tests substitute fakes.
type Port interface {
	// IsRepository returns true if the managed directory is inside a
	// git repository.
	IsRepository() bool

	// CurrentBranch returns the checked-out branch name.
	// Returns empty string in detached HEAD state.
	CurrentBranch(ctx context.Context) (string, error)

	// Pull fetches the remote and merges the current branch update.
	// Always merge, never rebase: an unattended background pull must not
	// rewrite unsynced local history.
	Pull(ctx context.Context) error

	// HasLocalChanges returns true if the working tree is not clean.
	HasLocalChanges(ctx context.Context) (bool, error)

	// HasConflicts returns true if the working tree has unmerged paths.
	HasConflicts(ctx context.Context) (bool, error)

	// ConflictedFiles returns the paths currently in conflict state.
	ConflictedFiles(ctx context.Context) ([]string, error)

	// CommitAndPush stages all changes, commits with the given message,
	// and pushes to the current branch's remote.
	CommitAndPush(ctx context.Context, message string) error

	// TestConnectivity performs a lightweight remote probe (list remote
	// refs) without mutating anything. Diagnostics only; the sync path
	// never gates on it.
	TestConnectivity(ctx context.Context) bool
}
