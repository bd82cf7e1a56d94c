package engine

import (
	"context"

	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/model"
)

// StatusReport is a local-only view of the vault: it never contacts the
// remote and never changes the session.
type StatusReport struct {
	Vault    string
	Head     model.Head
	Commit   string
	Worktree *model.Worktree
	// Upstream is the remote-tracking ref compared against, when it exists.
	Upstream string
	Ahead    int
	Behind   int
	// Unpushed lists one-line summaries of commits missing from Upstream.
	Unpushed        []string
	MergeInProgress bool
	Pending         []string
	// Session is nil before the first sync.
	Session        *model.SyncSession
	LatestSnapshot *model.Snapshot
}

// Status reports session state, HEAD, unpushed commits, ahead/behind counts
// against the last fetched remote-tracking ref and the newest snapshot.
func (e *Engine) Status(ctx context.Context) (*StatusReport, error) {
	rep := &StatusReport{Vault: e.vault}
	ok, err := gitx.IsRepo(ctx, e.runner, e.vault)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := e.gitStatus(ctx, rep); err != nil {
			return nil, err
		}
	}

	if sess, found, err := e.offline.Stored(); err != nil {
		return nil, err
	} else if found {
		rep.Session = sess
	}
	snap, err := e.backups.Latest()
	if err != nil {
		return nil, err
	}
	rep.LatestSnapshot = snap
	return rep, nil
}

func (e *Engine) gitStatus(ctx context.Context, rep *StatusReport) error {
	head, err := gitx.Head(ctx, e.runner, e.vault)
	if err != nil {
		return err
	}
	rep.Head = head
	if commit, err := gitx.RevParse(ctx, e.runner, e.vault, "HEAD"); err == nil {
		rep.Commit = commit
	}
	wt, err := gitx.WorktreeStatus(ctx, e.runner, e.vault)
	if err != nil {
		return err
	}
	rep.Worktree = wt

	if gitx.MergeInProgress(ctx, e.runner, e.vault) {
		rep.MergeInProgress = true
		paths, err := gitx.ConflictedPaths(ctx, e.runner, e.vault)
		if err != nil {
			return err
		}
		rep.Pending = paths
	}

	branch := e.cfg.Vault.Branch
	if branch == "" && !head.Detached {
		branch = head.Branch
	}
	if branch == "" || rep.Commit == "" {
		return nil
	}
	upstream := e.remote() + "/" + branch
	if _, err := gitx.RevParse(ctx, e.runner, e.vault, upstream); err != nil {
		return nil
	}
	rep.Upstream = upstream
	ahead, behind, err := gitx.AheadBehind(ctx, e.runner, e.vault, upstream)
	if err != nil {
		return err
	}
	rep.Ahead, rep.Behind = ahead, behind
	if ahead > 0 {
		unpushed, err := gitx.UnpushedCommits(ctx, e.runner, e.vault, upstream)
		if err != nil {
			return err
		}
		rep.Unpushed = unpushed
	}
	return nil
}
