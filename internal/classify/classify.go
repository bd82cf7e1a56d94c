// SPDX-License-Identifier: MIT

// Package classify inspects a vault and its remote and assigns exactly one
// synchronization scenario. Classification never touches the working tree,
// the index or local branches; it only refreshes the remote-tracking ref.
package classify

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/skaphos/vaultkeeper/internal/discovery"
	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

// DefaultNetworkTimeout bounds ls-remote and fetch.
const DefaultNetworkTimeout = 30 * time.Second

// fallbackBranches are tried in order when no branch is configured.
var fallbackBranches = []string{"main", "master"}

// Options configures a Classifier.
type Options struct {
	// Remote defaults to "origin".
	Remote string
	// Branch pins the remote branch. Empty means main, then master.
	Branch string
	// Exclude holds doublestar patterns ignored on both sides.
	Exclude        []string
	NetworkTimeout time.Duration
	Fs             afero.Fs
	Logger         *zap.Logger
}

// Classifier computes RepositoryState for a vault.
type Classifier struct {
	runner gitx.Runner
	opts   Options
	log    *zap.Logger
}

// New returns a Classifier that runs git through runner.
func New(runner gitx.Runner, opts Options) *Classifier {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.NetworkTimeout <= 0 {
		opts.NetworkTimeout = DefaultNetworkTimeout
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Classifier{runner: runner, opts: opts, log: opts.Logger.Named("classify")}
}

// Remote returns the configured remote name.
func (c *Classifier) Remote() string { return c.opts.Remote }

// Classify inspects dir and its remote. A remote that cannot be reached
// yields an error matching syncerr.ErrConnectivity.
func (c *Classifier) Classify(ctx context.Context, dir string) (*model.RepositoryState, error) {
	ok, err := gitx.IsRepo(ctx, c.runner, dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s is not a git repository", dir)
	}

	state := &model.RepositoryState{}
	local, err := discovery.Files(ctx, c.opts.Fs, dir, discovery.Options{Exclude: c.opts.Exclude, Meaningful: true})
	if err != nil {
		return nil, fmt.Errorf("list vault files: %w", err)
	}
	state.LocalFiles = discovery.Paths(local)
	state.LocalHasCommits = gitx.HasCommits(ctx, c.runner, dir)

	branch, exists, err := c.RemoteBranch(ctx, dir)
	if err != nil {
		return nil, err
	}
	state.Branch = branch
	state.RemoteBranch = c.opts.Remote + "/" + branch

	if exists {
		if err := c.fetch(ctx, dir, branch); err != nil {
			return nil, err
		}
		tree, err := gitx.TreeFiles(ctx, c.runner, dir, state.RemoteBranch)
		if err != nil {
			return nil, err
		}
		state.RemoteHasCommits = true
		state.RemoteFiles = discovery.FilterMeaningful(tree, c.opts.Exclude)
	}

	if state.LocalHasCommits && state.RemoteHasCommits {
		ahead, behind, err := gitx.AheadBehind(ctx, c.runner, dir, state.RemoteBranch)
		if err != nil {
			return nil, err
		}
		state.Ahead = ahead
		state.Behind = behind
		state.RemoteAhead = behind > 0
		state.RemoteBehind = ahead > 0
		state.Diverged = state.RemoteAhead && state.RemoteBehind
		state.CommonAncestor = gitx.MergeBase(ctx, c.runner, dir, "HEAD", state.RemoteBranch) != ""
	}

	state.Scenario = Decide(state)
	c.log.Debug("classified vault",
		zap.String("vault", dir),
		zap.String("scenario", string(state.Scenario)),
		zap.Int("local_files", len(state.LocalFiles)),
		zap.Int("remote_files", len(state.RemoteFiles)),
		zap.Int("ahead", state.Ahead),
		zap.Int("behind", state.Behind))
	return state, nil
}

// Decide maps content presence on each side to a scenario.
func Decide(state *model.RepositoryState) model.Scenario {
	switch {
	case state.LocalEmpty() && state.RemoteEmpty():
		return model.ScenarioBootstrap
	case state.LocalEmpty():
		return model.ScenarioAdoptRemote
	case state.RemoteEmpty():
		return model.ScenarioPublishLocal
	default:
		return model.ScenarioReconcile
	}
}

// RemoteBranch picks the branch to synchronize: the configured branch, else
// main, else master, else the first branch the remote publishes. exists is
// false when the remote has no such branch yet.
func (c *Classifier) RemoteBranch(ctx context.Context, dir string) (string, bool, error) {
	netCtx, cancel := context.WithTimeout(ctx, c.opts.NetworkTimeout)
	defer cancel()
	heads, err := gitx.RemoteHeads(netCtx, c.runner, dir, c.opts.Remote)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		return "", false, syncerr.Connectivity("ls-remote "+c.opts.Remote, err)
	}
	branch, exists := ChooseBranch(heads, c.opts.Branch)
	return branch, exists, nil
}

// ChooseBranch applies the branch preference order to the remote heads.
func ChooseBranch(heads []string, configured string) (string, bool) {
	if configured != "" {
		return configured, slices.Contains(heads, configured)
	}
	for _, candidate := range fallbackBranches {
		if slices.Contains(heads, candidate) {
			return candidate, true
		}
	}
	if len(heads) > 0 {
		return heads[0], true
	}
	return fallbackBranches[0], false
}

func (c *Classifier) fetch(ctx context.Context, dir, branch string) error {
	netCtx, cancel := context.WithTimeout(ctx, c.opts.NetworkTimeout)
	defer cancel()
	if err := gitx.FetchBranch(netCtx, c.runner, dir, c.opts.Remote, branch); err != nil {
		if ctx.Err() == nil && (gitx.IsConnectivity(err) || netCtx.Err() != nil) {
			return syncerr.Connectivity("fetch "+c.opts.Remote, err)
		}
		return err
	}
	return nil
}
