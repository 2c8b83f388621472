package gitport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single git invocation.
const DefaultTimeout = 30 * time.Second

// ConnectivityTimeout bounds the remote probe, which should fail fast.
const ConnectivityTimeout = 10 * time.Second

// Git implements Port by shelling out to the git binary.
type Git struct {
	// root is the vault directory all commands run in
	root string

	// timeout bounds each git invocation
	timeout time.Duration
}

// New creates a Git port for the given vault directory.
func New(root string) *Git {
	return &Git{root: root, timeout: DefaultTimeout}
}

// NewWithTimeout creates a Git port with a custom per-command timeout.
func NewWithTimeout(root string, timeout time.Duration) *Git {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Git{root: root, timeout: timeout}
}

// Root returns the directory the port operates on.
func (g *Git) Root() string {
	return g.root
}

// run executes a git command in the vault directory with the port's timeout.
// Returns combined stdout and, on failure, an error that includes stderr.
func (g *Git) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return nil, ErrGitNotAvailable
		}
		combined := stdout.String() + stderr.String()
		if strings.TrimSpace(combined) != "" {
			return stdout.Bytes(), fmt.Errorf("git %s failed: %w\n%s",
				strings.Join(args, " "), err, strings.TrimSpace(combined))
		}
		return stdout.Bytes(), fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}

	return stdout.Bytes(), nil
}

// IsRepository returns true if the vault directory is under version control.
func (g *Git) IsRepository() bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = g.root
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "true"
}

// CurrentBranch returns the current branch name.
// Returns empty string in detached HEAD state.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	output, err := g.run(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		if strings.Contains(err.Error(), "not a symbolic ref") {
			return "", nil // detached HEAD
		}
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// hasRemote returns true if any remote is configured.
func (g *Git) hasRemote(ctx context.Context) bool {
	output, err := g.run(ctx, "remote")
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(output))) > 0
}

// remoteFor returns the configured remote for the branch, defaulting to origin.
func (g *Git) remoteFor(ctx context.Context, branch string) string {
	if branch != "" {
		output, err := g.run(ctx, "config", "--get", fmt.Sprintf("branch.%s.remote", branch))
		if err == nil {
			if remote := strings.TrimSpace(string(output)); remote != "" {
				return remote
			}
		}
	}
	return "origin"
}

// Pull fetches the remote and merges the current branch update.
// Rebase is deliberately excluded: a background pull that rewrites
// unsynced local history would be invisible data loss.
func (g *Git) Pull(ctx context.Context) error {
	if !g.hasRemote(ctx) {
		return ErrNoRemote
	}

	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if branch == "" {
		return ErrDetached
	}

	remote := g.remoteFor(ctx, branch)

	output, err := g.run(ctx, "pull", "--no-rebase", remote, branch)
	outputStr := string(output)

	// A merge conflict leaves the command failed with CONFLICT markers in
	// the output. Collect the unmerged paths for the structured error.
	if err != nil {
		if strings.Contains(outputStr, "CONFLICT") ||
			strings.Contains(err.Error(), "CONFLICT") ||
			strings.Contains(err.Error(), "Automatic merge failed") {
			files, _ := g.ConflictedFiles(ctx)
			return &ConflictError{Files: files, Output: outputStr}
		}
		return err
	}

	return nil
}

// HasLocalChanges returns true if the working tree is not clean.
func (g *Git) HasLocalChanges(ctx context.Context) (bool, error) {
	output, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// HasConflicts returns true if the working tree has unmerged paths.
func (g *Git) HasConflicts(ctx context.Context) (bool, error) {
	files, err := g.ConflictedFiles(ctx)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// ConflictedFiles returns the paths currently in conflict state.
func (g *Git) ConflictedFiles(ctx context.Context) ([]string, error) {
	output, err := g.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// CommitAndPush stages all changes, commits with the given message, and
// pushes to the current branch's remote.
func (g *Git) CommitAndPush(ctx context.Context, message string) error {
	if message == "" {
		return fmt.Errorf("commit message is required")
	}

	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return err
	}

	_, err := g.run(ctx, "commit", "-m", message)
	if err != nil {
		// The tree can race clean between the change event and the
		// commit (e.g. editor swap files deleted again).
		if strings.Contains(err.Error(), "nothing to commit") ||
			strings.Contains(err.Error(), "nothing added to commit") {
			return ErrNothingToCommit
		}
		return err
	}

	return g.push(ctx)
}

// push pushes the current branch to its remote.
func (g *Git) push(ctx context.Context) error {
	if !g.hasRemote(ctx) {
		return ErrNoRemote
	}

	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if branch == "" {
		return ErrDetached
	}

	remote := g.remoteFor(ctx, branch)

	_, err = g.run(ctx, "push", remote, branch)
	if err != nil {
		if strings.Contains(err.Error(), "rejected") ||
			strings.Contains(err.Error(), "non-fast-forward") {
			return fmt.Errorf("%w: %s", ErrPushRejected, err)
		}
		return err
	}

	return nil
}

// TestConnectivity performs a lightweight remote probe by listing remote
// refs. It mutates nothing and uses a short timeout; the sync path itself
// never gates on the result.
func (g *Git) TestConnectivity(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ConnectivityTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-remote", "--heads", "--quiet", "origin")
	cmd.Dir = g.root
	return cmd.Run() == nil
}
