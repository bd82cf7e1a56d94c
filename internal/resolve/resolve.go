// Package resolve walks the conflicted files left by a smart merge, asks the
// user how to resolve each one and commits the merge once every file has a
// decision. Deferred files keep the merge open so the pass can be resumed.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/skaphos/vaultkeeper/internal/fileutil"
	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/merge"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

// maxAttempts bounds re-prompts for a single path before it is deferred.
const maxAttempts = 3

// Backupper is the slice of the backup manager the resolver needs.
type Backupper interface {
	Create(ctx context.Context, reason model.BackupReason, description string, files []string) (*model.Snapshot, error)
}

// Outcome summarizes a resolution pass.
type Outcome struct {
	Resolutions []model.FileResolution
	// Deferred paths remain unmerged in the index.
	Deferred   []string
	Committed  bool
	Commit     string
	SnapshotID string
}

// Options configures a Resolver.
type Options struct {
	Fs afero.Fs
	// Editor is the configured editor argv. Empty falls back to $VISUAL,
	// $EDITOR, then the first installed known editor.
	Editor []string
	// RunEditor launches an editor on a file and waits. Defaults to ExecEditor.
	RunEditor func(ctx context.Context, argv []string, path string) error
	Logger    *zap.Logger
	Now       func() time.Time
}

// Resolver runs Stage-2 resolution.
type Resolver struct {
	runner   gitx.Runner
	backups  Backupper
	prompter model.FilePrompter
	fs       afero.Fs
	editor   []string
	run      func(ctx context.Context, argv []string, path string) error
	log      *zap.Logger
	now      func() time.Time
}

// New returns a Resolver asking prompter for each decision.
func New(runner gitx.Runner, backups Backupper, prompter model.FilePrompter, opts Options) *Resolver {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.RunEditor == nil {
		opts.RunEditor = ExecEditor
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		runner:   runner,
		backups:  backups,
		prompter: prompter,
		fs:       opts.Fs,
		editor:   opts.Editor,
		run:      opts.RunEditor,
		log:      opts.Logger.Named("resolve"),
		now:      opts.Now,
	}
}

type promptError struct{ err error }

func (e *promptError) Error() string { return "prompt: " + e.err.Error() }
func (e *promptError) Unwrap() error { return e.err }

// Resolve decides every conflict in path order. When all are decided the
// merge is committed; otherwise the returned error matches
// syncerr.ErrResolutionIncomplete and lists the deferred paths.
func (r *Resolver) Resolve(ctx context.Context, dir string, conflicts []model.FileConflict) (*Outcome, error) {
	sorted := append([]model.FileConflict(nil), conflicts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	paths := make([]string, 0, len(sorted))
	for _, c := range sorted {
		paths = append(paths, c.Path)
	}

	snap, err := r.backups.Create(ctx, model.ReasonConflictResolution, fmt.Sprintf("before resolving %d conflicted file(s)", len(paths)), paths)
	if err != nil {
		return nil, err
	}
	out := &Outcome{SnapshotID: snap.ID}

	for i := range sorted {
		c := &sorted[i]
		if ctx.Err() != nil {
			out.Deferred = append(out.Deferred, paths[i:]...)
			break
		}
		res, err := r.resolveOne(ctx, dir, c)
		if err != nil {
			var pe *promptError
			if errors.As(err, &pe) {
				r.log.Warn("prompt failed, deferring remaining files", zap.String("path", c.Path), zap.Error(err))
				out.Deferred = append(out.Deferred, paths[i:]...)
				break
			}
			return out, syncerr.WithSnapshot(fmt.Errorf("resolve %s: %w", c.Path, err), snap.ID, "")
		}
		c.Resolution = &res
		if res.Kind == model.ResolveSkipDeferred {
			out.Deferred = append(out.Deferred, c.Path)
			continue
		}
		out.Resolutions = append(out.Resolutions, res)
		r.log.Info("resolved file", zap.String("path", c.Path), zap.String("resolution", string(res.Kind)))
	}

	if len(out.Deferred) > 0 {
		return out, syncerr.WithSnapshot(syncerr.ResolutionIncomplete("resolve", out.Deferred), snap.ID, "")
	}

	if err := gitx.AddAll(ctx, r.runner, dir); err != nil {
		return out, syncerr.WithSnapshot(err, snap.ID, "")
	}
	committed, err := gitx.Commit(ctx, r.runner, dir, CommitMessage(out.Resolutions))
	if err != nil {
		return out, syncerr.WithSnapshot(err, snap.ID, "")
	}
	out.Committed = committed
	if commit, err := gitx.RevParse(ctx, r.runner, dir, "HEAD"); err == nil {
		out.Commit = commit
	}
	return out, nil
}

// ResumeConflicts rebuilds the conflict list from the unmerged index of an
// in-progress merge. Paths whose sides became identical are staged.
func ResumeConflicts(ctx context.Context, runner gitx.Runner, dir string) ([]model.FileConflict, error) {
	paths, err := gitx.ConflictedPaths(ctx, runner, dir)
	if err != nil {
		return nil, err
	}
	conflicts, identical := merge.CollectConflicts(ctx, runner, dir, paths)
	if len(identical) > 0 {
		if err := gitx.CheckoutStage(ctx, runner, dir, "ours", identical...); err != nil {
			return nil, err
		}
		if err := gitx.Add(ctx, runner, dir, identical...); err != nil {
			return nil, err
		}
	}
	return conflicts, nil
}

func (r *Resolver) resolveOne(ctx context.Context, dir string, c *model.FileConflict) (model.FileResolution, error) {
	res := model.FileResolution{Path: c.Path}
	rejected := ""
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ans, err := r.prompter.ResolveFile(ctx, BuildRequest(c, rejected))
		if err != nil {
			return res, &promptError{err: err}
		}
		res.Kind = ans.Kind
		switch ans.Kind {
		case model.ResolveKeepLocal:
			return res, r.take(ctx, dir, c.Path, c.Local, c.LocalMissing)
		case model.ResolveKeepRemote:
			return res, r.take(ctx, dir, c.Path, c.Remote, c.RemoteMissing)
		case model.ResolveKeepBoth:
			renamed, err := r.keepBoth(ctx, dir, c)
			res.RenamedPath = renamed
			return res, err
		case model.ResolveManualEdit:
			content, reason, err := r.manualEdit(ctx, dir, c, ans.Content)
			if err != nil {
				return res, err
			}
			if reason != "" {
				rejected = reason
				continue
			}
			res.Content = content
			return res, nil
		case model.ResolveSkipDeferred:
			return res, nil
		default:
			rejected = fmt.Sprintf("unknown resolution %q", ans.Kind)
		}
	}
	r.log.Warn("too many attempts, deferring", zap.String("path", c.Path), zap.String("last_rejection", rejected))
	return model.FileResolution{Path: c.Path, Kind: model.ResolveSkipDeferred}, nil
}

// take writes one side's blob to path and stages it. A missing side deletes
// the path.
func (r *Resolver) take(ctx context.Context, dir, path string, content []byte, missing bool) error {
	if missing {
		return gitx.Remove(ctx, r.runner, dir, path)
	}
	if err := fileutil.AtomicWrite(r.fs, filepath.Join(dir, filepath.FromSlash(path)), content, 0o644); err != nil {
		return err
	}
	return gitx.Add(ctx, r.runner, dir, path)
}

func (r *Resolver) keepBoth(ctx context.Context, dir string, c *model.FileConflict) (string, error) {
	switch {
	case c.LocalMissing:
		return "", r.take(ctx, dir, c.Path, c.Remote, false)
	case c.RemoteMissing:
		return "", r.take(ctx, dir, c.Path, c.Local, false)
	}
	if err := r.take(ctx, dir, c.Path, c.Local, false); err != nil {
		return "", err
	}
	renamed := ConflictCopyPath(r.fs, dir, c.Path, r.now())
	if err := r.take(ctx, dir, renamed, c.Remote, false); err != nil {
		return "", err
	}
	return renamed, nil
}

// manualEdit returns the accepted content, or a non-empty rejection reason
// when the path must be asked again.
func (r *Resolver) manualEdit(ctx context.Context, dir string, c *model.FileConflict, provided []byte) ([]byte, string, error) {
	abs := filepath.Join(dir, filepath.FromSlash(c.Path))
	content := provided
	if content == nil {
		if !fileutil.Exists(r.fs, abs) {
			if err := fileutil.AtomicWrite(r.fs, abs, MarkedContent(c), 0o644); err != nil {
				return nil, "", err
			}
		}
		argv := ResolveEditor(r.editor)
		if len(argv) == 0 {
			return nil, "no editor found; set editor in the config or $EDITOR", nil
		}
		if err := r.run(ctx, argv, abs); err != nil {
			r.log.Warn("editor failed", zap.Strings("editor", argv), zap.Error(err))
			return nil, "editor failed: " + err.Error(), nil
		}
		data, err := afero.ReadFile(r.fs, abs)
		if err != nil {
			return nil, "", err
		}
		content = data
	}
	if HasConflictMarkers(content) {
		return nil, "the edited file still contains conflict markers", nil
	}
	if err := fileutil.AtomicWrite(r.fs, abs, content, 0o644); err != nil {
		return nil, "", err
	}
	return content, "", gitx.Add(ctx, r.runner, dir, c.Path)
}

// CommitMessage lists each path's resolution.
func CommitMessage(resolutions []model.FileResolution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolve %d conflicted file(s)\n\n", len(resolutions))
	for _, res := range resolutions {
		fmt.Fprintf(&b, "- %s: %s", res.Path, res.Kind)
		if res.RenamedPath != "" {
			fmt.Fprintf(&b, " (remote copy at %s)", res.RenamedPath)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ConflictCopyPath returns a free sibling path for the remote copy of a
// keep-both resolution, for example "notes/a.conflict-20260504-120000.md".
func ConflictCopyPath(fsys afero.Fs, dir, rel string, at time.Time) string {
	ext := filepath.Ext(rel)
	stem := strings.TrimSuffix(rel, ext)
	if stem == "" || strings.HasSuffix(stem, "/") {
		stem, ext = rel, ""
	}
	base := fmt.Sprintf("%s.conflict-%s", stem, at.UTC().Format("20060102-150405"))
	candidate := base + ext
	for n := 2; fileutil.Exists(fsys, filepath.Join(dir, filepath.FromSlash(candidate))); n++ {
		candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
	return candidate
}
