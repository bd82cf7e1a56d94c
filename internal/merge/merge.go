// Package merge applies a Stage-1 strategy (smart merge, keep local, keep
// remote) to a vault whose history diverged from its remote. Every strategy
// snapshots the vault first and records the remote branch as the second
// parent of the resulting commit, so neither side's history is ever lost.
package merge

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

// AutoCommitMessage is used for dirty local state committed before a merge.
const AutoCommitMessage = "Auto-commit local changes before merge"

// Backupper is the slice of the backup manager the merge engine needs.
type Backupper interface {
	Create(ctx context.Context, reason model.BackupReason, description string, files []string) (*model.Snapshot, error)
	RecoveryInstructions(id string) (string, error)
}

// Result describes the outcome of a Stage-1 pass.
type Result struct {
	Strategy model.Strategy
	// Clean is true when the merge was committed without leftover conflicts.
	Clean bool
	// Conflicts need Stage-2 resolution. The merge stays in progress.
	Conflicts  []model.FileConflict
	SnapshotID string
	// Commit is HEAD after a clean merge.
	Commit string
}

// Options configures an Engine.
type Options struct {
	Logger *zap.Logger
}

// Engine runs Stage-1 strategies through git.
type Engine struct {
	runner  gitx.Runner
	backups Backupper
	log     *zap.Logger
}

// New returns a merge engine.
func New(runner gitx.Runner, backups Backupper, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{runner: runner, backups: backups, log: opts.Logger.Named("merge")}
}

// Apply merges state.RemoteBranch into the local branch of dir using
// strategy. Conflicts left by a smart merge are returned in the Result, not
// as an error. Any failure after the snapshot carries its id; the merge is
// aborted and recovery instructions are written.
func (e *Engine) Apply(ctx context.Context, dir string, state *model.RepositoryState, strategy model.Strategy) (*Result, error) {
	if state == nil || state.RemoteBranch == "" {
		return nil, fmt.Errorf("merge: remote branch unknown")
	}
	switch strategy {
	case model.StrategySmartMerge, model.StrategyKeepLocal, model.StrategyKeepRemote:
	default:
		return nil, fmt.Errorf("merge: unknown strategy %q", strategy)
	}
	upstream := state.RemoteBranch

	reason := model.ReasonConflictResolution
	if strategy == model.StrategyKeepRemote {
		reason = model.ReasonSetupSafety
	}
	snap, err := e.backups.Create(ctx, reason, fmt.Sprintf("before %s with %s", strategy, upstream), nil)
	if err != nil {
		return nil, err
	}
	res := &Result{Strategy: strategy, SnapshotID: snap.ID}
	log := e.log.With(zap.String("strategy", string(strategy)), zap.String("snapshot", snap.ID))

	if err := ctx.Err(); err != nil {
		return res, syncerr.WithSnapshot(err, snap.ID, "")
	}
	if _, err := gitx.CommitAll(ctx, e.runner, dir, AutoCommitMessage); err != nil {
		return res, syncerr.WithSnapshot(err, snap.ID, "")
	}
	if err := ctx.Err(); err != nil {
		return res, syncerr.WithSnapshot(err, snap.ID, "")
	}

	switch strategy {
	case model.StrategySmartMerge:
		err = e.smartMerge(ctx, dir, upstream, res)
	case model.StrategyKeepLocal:
		err = e.keepLocal(ctx, dir, upstream)
	case model.StrategyKeepRemote:
		err = e.keepRemote(ctx, dir, upstream)
	}
	if err != nil {
		return res, e.fail(dir, snap.ID, err, log)
	}
	if len(res.Conflicts) > 0 {
		log.Info("merge left conflicts", zap.Int("conflicts", len(res.Conflicts)))
		return res, nil
	}

	res.Clean = true
	if commit, err := gitx.RevParse(ctx, e.runner, dir, "HEAD"); err == nil {
		res.Commit = commit
	}
	log.Info("merge applied", zap.String("commit", res.Commit))
	return res, nil
}

// fail aborts an in-progress merge and writes recovery instructions. It
// runs detached from the caller's context so cleanup always completes.
func (e *Engine) fail(dir, snapshotID string, cause error, log *zap.Logger) error {
	ctx := context.Background()
	if gitx.MergeInProgress(ctx, e.runner, dir) {
		if err := gitx.MergeAbort(ctx, e.runner, dir); err != nil {
			log.Error("abort merge", zap.Error(err))
		}
	}
	recovery, err := e.backups.RecoveryInstructions(snapshotID)
	if err != nil {
		log.Error("write recovery instructions", zap.Error(err))
	}
	log.Error("merge failed", zap.Error(cause))
	return syncerr.WithSnapshot(cause, snapshotID, recovery)
}

func (e *Engine) smartMerge(ctx context.Context, dir, upstream string, res *Result) error {
	msg := fmt.Sprintf("Merge %s into local vault", upstream)
	_, mergeErr := e.runner.Run(ctx, dir, "merge", "--no-ff", "--no-edit", "--allow-unrelated-histories", "-m", msg, upstream)
	if mergeErr == nil {
		return nil
	}
	paths, err := gitx.ConflictedPaths(ctx, e.runner, dir)
	if err != nil || len(paths) == 0 {
		return fmt.Errorf("git merge %s: %w", upstream, mergeErr)
	}

	conflicts, identical := CollectConflicts(ctx, e.runner, dir, paths)
	if len(identical) > 0 {
		if err := gitx.CheckoutStage(ctx, e.runner, dir, "ours", identical...); err != nil {
			return err
		}
		if err := gitx.Add(ctx, e.runner, dir, identical...); err != nil {
			return err
		}
	}
	if len(conflicts) == 0 {
		if _, err := gitx.Commit(ctx, e.runner, dir, msg); err != nil {
			return err
		}
		return nil
	}
	res.Conflicts = conflicts
	return nil
}

// CollectConflicts reads the merge stages of each unmerged path. Paths whose
// two sides are byte-identical are returned separately since they need no
// decision.
func CollectConflicts(ctx context.Context, runner gitx.Runner, dir string, paths []string) ([]model.FileConflict, []string) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	var conflicts []model.FileConflict
	var identical []string
	for _, p := range sorted {
		ours, hasOurs := gitx.StageBlob(ctx, runner, dir, 2, p)
		theirs, hasTheirs := gitx.StageBlob(ctx, runner, dir, 3, p)
		if hasOurs && hasTheirs && bytes.Equal(ours, theirs) {
			identical = append(identical, p)
			continue
		}
		fc := model.FileConflict{
			Path:          p,
			Local:         ours,
			Remote:        theirs,
			LocalMissing:  !hasOurs,
			RemoteMissing: !hasTheirs,
		}
		if base, ok := gitx.StageBlob(ctx, runner, dir, 1, p); ok {
			fc.Base = base
		}
		conflicts = append(conflicts, fc)
	}
	return conflicts, identical
}

func (e *Engine) keepLocal(ctx context.Context, dir, upstream string) error {
	base := gitx.MergeBase(ctx, e.runner, dir, "HEAD", upstream)
	if err := e.oursMerge(ctx, dir, upstream); err != nil {
		return err
	}
	remote, err := gitx.TreeFiles(ctx, e.runner, dir, upstream)
	if err != nil {
		return err
	}
	local, err := gitx.TreeFiles(ctx, e.runner, dir, "HEAD")
	if err != nil {
		return err
	}
	var baseFiles []string
	if base != "" {
		if baseFiles, err = gitx.TreeFiles(ctx, e.runner, dir, base); err != nil {
			return err
		}
	}
	remoteOnly := difference(remote, local, baseFiles)
	if err := gitx.CheckoutPaths(ctx, e.runner, dir, upstream, remoteOnly...); err != nil {
		return err
	}
	_, err = gitx.Commit(ctx, e.runner, dir, fmt.Sprintf("Merge %s, keeping local versions", upstream))
	return err
}

func (e *Engine) keepRemote(ctx context.Context, dir, upstream string) error {
	if err := e.oursMerge(ctx, dir, upstream); err != nil {
		return err
	}
	remote, err := gitx.TreeFiles(ctx, e.runner, dir, upstream)
	if err != nil {
		return err
	}
	local, err := gitx.TreeFiles(ctx, e.runner, dir, "HEAD")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The overwrite runs to completion once started.
	ctx = context.WithoutCancel(ctx)
	if err := gitx.Remove(ctx, e.runner, dir, difference(local, remote)...); err != nil {
		return err
	}
	if len(remote) > 0 {
		if err := gitx.CheckoutPaths(ctx, e.runner, dir, upstream, "."); err != nil {
			return err
		}
	}
	_, err = gitx.Commit(ctx, e.runner, dir, fmt.Sprintf("Merge %s, adopting remote versions", upstream))
	return err
}

// oursMerge records upstream as a second parent without changing the tree.
func (e *Engine) oursMerge(ctx context.Context, dir, upstream string) error {
	_, err := e.runner.Run(ctx, dir, "merge", "--no-ff", "--no-commit", "-s", "ours", "--allow-unrelated-histories", upstream)
	if err != nil {
		return fmt.Errorf("git merge -s ours %s: %w", upstream, err)
	}
	return nil
}

// difference returns the members of a found in none of the others.
func difference(a []string, others ...[]string) []string {
	exclude := make(map[string]struct{})
	for _, o := range others {
		for _, p := range o {
			exclude[p] = struct{}{}
		}
	}
	var out []string
	for _, p := range a {
		if _, ok := exclude[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
