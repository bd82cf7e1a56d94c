// Package gitx provides helpers for executing git commands and parsing
// their output. It shells out to the installed git binary using argument
// lists only; no command line is ever interpreted by a shell.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/skaphos/vaultkeeper/internal/model"
)

// Runner executes git commands in a given vault directory.
// This interface allows mocking in tests.
type Runner interface {
	// Run executes a git command in the given directory and returns its raw
	// stdout. A non-zero exit returns a *CommandError carrying the exit code,
	// stdout and stderr.
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandError is returned by GitRunner when git exits unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Stdout)
	}
	if msg != "" {
		return fmt.Sprintf("git %s: %s: %v", strings.Join(e.Args, " "), msg, e.Err)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns the git exit code carried by err, or -1 when err did not
// come from a finished git process.
func ExitCode(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}

// Output returns the combined stdout and stderr carried by err.
func Output(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Stdout + "\n" + ce.Stderr
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// GitRunner is the default Runner implementation that shells out to git.
type GitRunner struct {
	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string
	// Env is appended to the process environment for every command.
	Env []string
}

// Run executes a git command.
func (g *GitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := g.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if strings.TrimSpace(dir) != "" {
		cmd.Dir = dir
	}
	if len(g.Env) > 0 {
		cmd.Env = append(cmd.Environ(), g.Env...)
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return stdout.String(), &CommandError{
			Args:     args,
			ExitCode: code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return stdout.String(), nil
}

func trimmed(ctx context.Context, r Runner, dir string, args ...string) (string, error) {
	out, err := r.Run(ctx, dir, args...)
	return strings.TrimSpace(out), err
}

// IsRepo checks whether the given path is inside a git working tree.
func IsRepo(ctx context.Context, r Runner, dir string) (bool, error) {
	out, err := trimmed(ctx, r, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, nil
	}
	return out == "true", nil
}

// Init creates a repository with the given initial branch.
func Init(ctx context.Context, r Runner, dir, branch string) error {
	if _, err := r.Run(ctx, dir, "init", "--initial-branch="+branch); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	return nil
}

// HasCommits reports whether HEAD resolves to a commit.
func HasCommits(ctx context.Context, r Runner, dir string) bool {
	_, err := r.Run(ctx, dir, "rev-parse", "--verify", "--quiet", "HEAD")
	return err == nil
}

// RevParse resolves rev to a full commit id.
func RevParse(ctx context.Context, r Runner, dir, rev string) (string, error) {
	out, err := trimmed(ctx, r, dir, "rev-parse", "--verify", rev)
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w", rev, err)
	}
	return out, nil
}

// Head returns the current branch and detached state.
func Head(ctx context.Context, r Runner, dir string) (model.Head, error) {
	out, err := trimmed(ctx, r, dir, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		hash, hashErr := trimmed(ctx, r, dir, "rev-parse", "--short", "HEAD")
		if hashErr != nil {
			return model.Head{Detached: true}, nil
		}
		return model.Head{Branch: hash, Detached: true}, nil
	}
	return model.Head{Branch: out}, nil
}

// WorktreeStatus returns the working tree dirty/staged/unstaged/untracked counts.
func WorktreeStatus(ctx context.Context, r Runner, dir string) (*model.Worktree, error) {
	out, err := r.Run(ctx, dir, "status", "--porcelain=v1")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	return ParsePorcelainStatus(out), nil
}

// RemoteURL returns the URL of the named remote, or "" when it is not configured.
func RemoteURL(ctx context.Context, r Runner, dir, remote string) string {
	out, err := trimmed(ctx, r, dir, "remote", "get-url", remote)
	if err != nil {
		return ""
	}
	return out
}

// AddRemote configures a new remote.
func AddRemote(ctx context.Context, r Runner, dir, remote, url string) error {
	if _, err := r.Run(ctx, dir, "remote", "add", remote, url); err != nil {
		return fmt.Errorf("git remote add: %w", err)
	}
	return nil
}

// SetRemoteURL repoints an existing remote.
func SetRemoteURL(ctx context.Context, r Runner, dir, remote, url string) error {
	if _, err := r.Run(ctx, dir, "remote", "set-url", remote, url); err != nil {
		return fmt.Errorf("git remote set-url: %w", err)
	}
	return nil
}

// RemoteHeads lists the branch names published by remote.
func RemoteHeads(ctx context.Context, r Runner, dir, remote string) ([]string, error) {
	out, err := r.Run(ctx, dir, "ls-remote", "--heads", remote)
	if err != nil {
		return nil, fmt.Errorf("git ls-remote: %w", err)
	}
	return ParseLsRemoteHeads(out), nil
}

// FetchBranch updates the remote-tracking ref for a single branch.
func FetchBranch(ctx context.Context, r Runner, dir, remote, branch string) error {
	refspec := fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, remote, branch)
	_, err := r.Run(ctx, dir, "-c", "fetch.recurseSubmodules=false", "fetch", "--no-tags", remote, refspec)
	if err != nil {
		return fmt.Errorf("git fetch: %w", err)
	}
	return nil
}

// TreeFiles lists every file path in the tree of rev.
func TreeFiles(ctx context.Context, r Runner, dir, rev string) ([]string, error) {
	out, err := r.Run(ctx, dir, "ls-tree", "-r", "--name-only", "-z", rev)
	if err != nil {
		return nil, fmt.Errorf("git ls-tree %s: %w", rev, err)
	}
	return ParseNulList(out), nil
}

// AheadBehind returns how many commits HEAD has that upstream lacks (ahead)
// and the reverse (behind).
func AheadBehind(ctx context.Context, r Runner, dir, upstream string) (int, int, error) {
	out, err := r.Run(ctx, dir, "rev-list", "--left-right", "--count", "HEAD..."+upstream)
	if err != nil {
		return 0, 0, fmt.Errorf("git rev-list: %w", err)
	}
	ahead, behind := ParseRevListCount(out)
	return ahead, behind, nil
}

// MergeBase returns the best common ancestor of a and b, or "" when the
// histories are unrelated.
func MergeBase(ctx context.Context, r Runner, dir, a, b string) string {
	out, err := trimmed(ctx, r, dir, "merge-base", a, b)
	if err != nil {
		return ""
	}
	return out
}

// IsAncestor reports whether ancestor is reachable from descendant.
func IsAncestor(ctx context.Context, r Runner, dir, ancestor, descendant string) bool {
	_, err := r.Run(ctx, dir, "merge-base", "--is-ancestor", ancestor, descendant)
	return err == nil
}

// ConflictedPaths lists unmerged paths in the index, sorted by git.
func ConflictedPaths(ctx context.Context, r Runner, dir string) ([]string, error) {
	out, err := r.Run(ctx, dir, "diff", "--name-only", "--diff-filter=U", "-z")
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	return ParseNulList(out), nil
}

// MergeInProgress reports whether MERGE_HEAD exists.
func MergeInProgress(ctx context.Context, r Runner, dir string) bool {
	_, err := r.Run(ctx, dir, "rev-parse", "--verify", "--quiet", "MERGE_HEAD")
	return err == nil
}

// MergeAbort abandons an in-progress merge.
func MergeAbort(ctx context.Context, r Runner, dir string) error {
	if _, err := r.Run(ctx, dir, "merge", "--abort"); err != nil {
		return fmt.Errorf("git merge --abort: %w", err)
	}
	return nil
}

// ShowBlob returns the exact content of path at rev.
func ShowBlob(ctx context.Context, r Runner, dir, rev, path string) ([]byte, error) {
	out, err := r.Run(ctx, dir, "cat-file", "blob", rev+":"+path)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// StageBlob returns the index content of path at the given merge stage
// (1 base, 2 ours, 3 theirs). ok is false when the stage is absent.
func StageBlob(ctx context.Context, r Runner, dir string, stage int, path string) ([]byte, bool) {
	out, err := r.Run(ctx, dir, "show", fmt.Sprintf(":%d:%s", stage, path))
	if err != nil {
		return nil, false
	}
	return []byte(out), true
}

// Add stages the given paths.
func Add(ctx context.Context, r Runner, dir string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	if _, err := r.Run(ctx, dir, args...); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	return nil
}

// AddAll stages every change, including deletions and untracked files.
func AddAll(ctx context.Context, r Runner, dir string) error {
	if _, err := r.Run(ctx, dir, "add", "-A"); err != nil {
		return fmt.Errorf("git add -A: %w", err)
	}
	return nil
}

// Remove deletes the given paths from the index and working tree.
func Remove(ctx context.Context, r Runner, dir string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"rm", "-q", "-f", "--ignore-unmatch", "--"}, paths...)
	if _, err := r.Run(ctx, dir, args...); err != nil {
		return fmt.Errorf("git rm: %w", err)
	}
	return nil
}

// CheckoutPaths writes the given paths from rev into the index and worktree.
func CheckoutPaths(ctx context.Context, r Runner, dir, rev string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"checkout", rev, "--"}, paths...)
	if _, err := r.Run(ctx, dir, args...); err != nil {
		return fmt.Errorf("git checkout %s: %w", rev, err)
	}
	return nil
}

// Commit records the index with message. It returns committed=false when
// there was nothing to commit.
func Commit(ctx context.Context, r Runner, dir, message string) (bool, error) {
	_, err := r.Run(ctx, dir, "-c", "commit.gpgsign=false", "commit", "--no-verify", "-m", message)
	if err != nil {
		out := Output(err)
		if strings.Contains(out, "nothing to commit") || strings.Contains(out, "nothing added to commit") {
			return false, nil
		}
		return false, fmt.Errorf("git commit: %w", err)
	}
	return true, nil
}

// CommitAll stages everything and commits it when the tree is dirty.
func CommitAll(ctx context.Context, r Runner, dir, message string) (bool, error) {
	if err := AddAll(ctx, r, dir); err != nil {
		return false, err
	}
	return Commit(ctx, r, dir, message)
}

// Push publishes branch to remote and sets it as upstream.
func Push(ctx context.Context, r Runner, dir, remote, branch string) error {
	if _, err := r.Run(ctx, dir, "push", "-u", remote, branch); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

// UnpushedCommits lists one-line summaries of commits on HEAD missing from upstream.
func UnpushedCommits(ctx context.Context, r Runner, dir, upstream string) ([]string, error) {
	out, err := trimmed(ctx, r, dir, "log", "--oneline", upstream+"..HEAD")
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	return ParseLines(out), nil
}

// MergeFastForward advances HEAD to upstream, failing when that would need a merge commit.
func MergeFastForward(ctx context.Context, r Runner, dir, upstream string) error {
	if _, err := r.Run(ctx, dir, "merge", "--ff-only", upstream); err != nil {
		return fmt.Errorf("git merge --ff-only %s: %w", upstream, err)
	}
	return nil
}

// CheckoutStage resolves unmerged paths to one side ("ours" or "theirs") in the worktree.
func CheckoutStage(ctx context.Context, r Runner, dir, side string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"checkout", "--" + side, "--"}, paths...)
	if _, err := r.Run(ctx, dir, args...); err != nil {
		return fmt.Errorf("git checkout --%s: %w", side, err)
	}
	return nil
}

// ResetBranch points branch at rev and checks it out, discarding worktree changes to tracked files.
func ResetBranch(ctx context.Context, r Runner, dir, branch, rev string) error {
	if _, err := r.Run(ctx, dir, "checkout", "-f", "-B", branch, rev); err != nil {
		return fmt.Errorf("git checkout -B %s: %w", branch, err)
	}
	return nil
}
