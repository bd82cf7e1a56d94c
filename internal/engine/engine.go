// Package engine orchestrates the core operations: classify, status, sync
// and deferred resolution. It coordinates the classifier, the merge and
// resolution stages, the backup manager and the offline state machine for a
// single vault.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/skaphos/vaultkeeper/internal/backup"
	"github.com/skaphos/vaultkeeper/internal/config"
	"github.com/skaphos/vaultkeeper/internal/discovery"
	"github.com/skaphos/vaultkeeper/internal/fileutil"
	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/history"
	"github.com/skaphos/vaultkeeper/internal/lock"
	"github.com/skaphos/vaultkeeper/internal/merge"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/offline"
	"github.com/skaphos/vaultkeeper/internal/remotemismatch"
	"github.com/skaphos/vaultkeeper/internal/resolve"
	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

const (
	// PlaceholderFile seeds an empty vault so the first commit has content.
	PlaceholderFile = "README.md"
	// PlaceholderContent is written to PlaceholderFile during bootstrap.
	PlaceholderContent = "# Welcome to your Obsidian Vault\n\nThis placeholder file was generated automatically by vaultkeeper to initialize the repository.\n"
	// InitialCommitMessage is used for the bootstrap commit.
	InitialCommitMessage = "Initial commit (auto-sync)"
)

// Classifier computes the repository state.
type Classifier interface {
	Classify(ctx context.Context, dir string) (*model.RepositoryState, error)
}

// Merger applies a Stage-1 strategy.
type Merger interface {
	Apply(ctx context.Context, dir string, state *model.RepositoryState, strategy model.Strategy) (*merge.Result, error)
}

// Resolver runs Stage-2 resolution.
type Resolver interface {
	Resolve(ctx context.Context, dir string, conflicts []model.FileConflict) (*resolve.Outcome, error)
}

// Backups is the slice of the backup manager the engine uses.
type Backups interface {
	Create(ctx context.Context, reason model.BackupReason, description string, files []string) (*model.Snapshot, error)
	Latest() (*model.Snapshot, error)
	PruneDefault() ([]string, error)
}

// HistoryRecorder stores sync attempts.
type HistoryRecorder interface {
	RecordSync(rec history.SyncRecord, err error) error
}

// Deps wires an Engine. Vault, Config, Runner, Classifier, Merger, Resolver,
// Backups and Offline are required.
type Deps struct {
	Vault      string
	Config     *config.Config
	Runner     gitx.Runner
	Fs         afero.Fs
	Logger     *zap.Logger
	Backups    Backups
	Classifier Classifier
	Merger     Merger
	Resolver   Resolver
	Offline    *offline.Manager
	// History is optional.
	History HistoryRecorder
	// Chooser picks a strategy for diverged histories when neither the
	// caller nor the config names one.
	Chooser model.StrategyChooser
	// Lock acquires the vault lock; defaults to lock.Acquire.
	Lock func(vault string) (release func() error, err error)
	Now  func() time.Time
}

// Engine is the core orchestrator for VaultKeeper operations.
type Engine struct {
	vault      string
	cfg        *config.Config
	runner     gitx.Runner
	fs         afero.Fs
	log        *zap.Logger
	backups    Backups
	classifier Classifier
	merger     Merger
	resolver   Resolver
	offline    *offline.Manager
	history    HistoryRecorder
	chooser    model.StrategyChooser
	lock       func(vault string) (func() error, error)
	now        func() time.Time
}

// New creates an Engine from its collaborators.
func New(d Deps) *Engine {
	if d.Fs == nil {
		d.Fs = afero.NewOsFs()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Lock == nil {
		d.Lock = func(vault string) (func() error, error) {
			l, err := lock.Acquire(vault)
			if err != nil {
				return nil, err
			}
			return l.Release, nil
		}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		vault:      d.Vault,
		cfg:        d.Config,
		runner:     d.Runner,
		fs:         d.Fs,
		log:        d.Logger.Named("engine"),
		backups:    d.Backups,
		classifier: d.Classifier,
		merger:     d.Merger,
		resolver:   d.Resolver,
		offline:    d.Offline,
		history:    d.History,
		chooser:    d.Chooser,
		lock:       d.Lock,
		now:        d.Now,
	}
}

// Config returns the engine configuration reference. A sync in
// --reconcile-remote-mismatch=config mode may have updated it.
func (e *Engine) Config() *config.Config { return e.cfg }

// Vault returns the vault directory.
func (e *Engine) Vault() string { return e.vault }

// SyncOptions configures a sync operation.
type SyncOptions struct {
	// Strategy overrides the configured default for diverged histories.
	Strategy model.Strategy
	// ReconcileRemote decides what happens when git and the config disagree
	// on the remote URL.
	ReconcileRemote remotemismatch.ReconcileMode
}

// OutcomeKind is the typed outcome category of a sync.
type OutcomeKind string

const (
	OutcomeBootstrapped  OutcomeKind = "bootstrapped"
	OutcomeAdopted       OutcomeKind = "adopted"
	OutcomePublished     OutcomeKind = "published"
	OutcomePushed        OutcomeKind = "pushed"
	OutcomeFastForwarded OutcomeKind = "fast_forwarded"
	OutcomeMerged        OutcomeKind = "merged"
	OutcomeUpToDate      OutcomeKind = "up_to_date"
	OutcomePending       OutcomeKind = "pending_resolution"
	OutcomeOffline       OutcomeKind = "offline"
	OutcomeFailed        OutcomeKind = "failed"
)

// SyncResult records the outcome of one sync or resolve run.
type SyncResult struct {
	// Scenario is empty when the run ended before classification.
	Scenario model.Scenario
	// Strategy is set when a Stage-1 strategy ran.
	Strategy model.Strategy
	// State is the offline state machine state after the run.
	State   model.OfflineState
	Outcome OutcomeKind
	// SnapshotID is the most recent safety snapshot taken during the run.
	SnapshotID string
	// Commit is HEAD after a successful run.
	Commit string
	// Pending lists files deferred to a later resolution pass.
	Pending     []string
	Resolutions []model.FileResolution
	Message     string
	// ConfigChanged is true when the remote URL in Config was updated.
	ConfigChanged bool
}

// OK reports whether the run completed without deferred work.
func (r *SyncResult) OK() bool {
	switch r.Outcome {
	case OutcomePending, OutcomeOffline, OutcomeFailed:
		return false
	}
	return true
}

// Sync brings the vault and its remote into agreement. Connectivity loss
// and deferred conflicts are reported through the result, not as errors.
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	release, err := e.lock(e.vault)
	if err != nil {
		return nil, err
	}
	defer e.release(release)

	res := &SyncResult{}
	err = e.sync(ctx, opts, res)
	return e.finish(res, err)
}

// ResolvePending resumes a resolution pass left open by deferred files,
// then pushes the merge.
func (e *Engine) ResolvePending(ctx context.Context) (*SyncResult, error) {
	release, err := e.lock(e.vault)
	if err != nil {
		return nil, err
	}
	defer e.release(release)

	res := &SyncResult{}
	err = e.resolvePending(ctx, res)
	return e.finish(res, err)
}

// Classify inspects the vault and its remote without changing either.
func (e *Engine) Classify(ctx context.Context) (*model.RepositoryState, error) {
	return e.classifier.Classify(ctx, e.vault)
}

func (e *Engine) release(release func() error) {
	if err := release(); err != nil {
		e.log.Warn("release vault lock", zap.Error(err))
	}
}

func (e *Engine) finish(res *SyncResult, err error) (*SyncResult, error) {
	if err != nil {
		res.Outcome = OutcomeFailed
		if id := syncerr.SnapshotID(err); id != "" {
			res.SnapshotID = id
		} else if res.SnapshotID != "" {
			err = syncerr.WithSnapshot(err, res.SnapshotID, "")
		}
		res.Message = err.Error()
	}
	if e.offline != nil {
		res.State = e.offline.State()
	}
	e.log.Info("sync finished",
		zap.String("outcome", string(res.Outcome)),
		zap.String("scenario", string(res.Scenario)),
		zap.String("state", string(res.State)),
		zap.String("snapshot", res.SnapshotID))
	e.record(res, err)
	return res, err
}

func (e *Engine) record(res *SyncResult, err error) {
	if e.history == nil {
		return
	}
	rec := history.SyncRecord{
		Outcome:    string(res.Outcome),
		Scenario:   string(res.Scenario),
		Strategy:   string(res.Strategy),
		Commit:     res.Commit,
		SnapshotID: res.SnapshotID,
		Pending:    len(res.Pending),
		Message:    res.Message,
		SyncedAt:   e.now().UTC(),
	}
	switch res.Outcome {
	case OutcomeOffline:
		rec.Status = history.StatusOffline
	case OutcomePending:
		rec.Status = history.StatusPending
	}
	if rerr := e.history.RecordSync(rec, err); rerr != nil {
		e.log.Warn("record sync history", zap.Error(rerr))
	}
}

func (e *Engine) sync(ctx context.Context, opts SyncOptions, res *SyncResult) error {
	if _, err := e.offline.Start(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if gitx.MergeInProgress(ctx, e.runner, e.vault) {
		paths, err := gitx.ConflictedPaths(ctx, e.runner, e.vault)
		if err != nil {
			return err
		}
		res.Outcome = OutcomePending
		res.Pending = paths
		res.Message = "a previous merge is waiting for resolution; run 'vaultkeeper resolve'"
		return nil
	}

	if err := e.ensureRepo(ctx, opts, res); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	committed, err := e.commitLocal(ctx)
	if err != nil {
		return err
	}
	if committed {
		if err := e.offline.LocalMutation(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !e.offline.Online() {
		return e.wentOffline(ctx, res, errors.New("remote unreachable; changes are committed locally"))
	}
	if e.offline.State() == model.StateOfflineDirty {
		if err := e.offline.ConnectivityRestored(ctx); err != nil {
			return err
		}
	}

	state, err := e.classifier.Classify(ctx, e.vault)
	if err != nil {
		if errors.Is(err, syncerr.ErrConnectivity) {
			return e.wentOffline(ctx, res, err)
		}
		return err
	}
	res.Scenario = state.Scenario
	if err := ctx.Err(); err != nil {
		return err
	}

	switch state.Scenario {
	case model.ScenarioBootstrap:
		err = e.bootstrap(ctx, state, res)
	case model.ScenarioAdoptRemote:
		err = e.adoptRemote(ctx, state, res)
	case model.ScenarioPublishLocal:
		err = e.publishLocal(ctx, state, res)
	default:
		err = e.reconcile(ctx, opts, state, res)
	}
	if err != nil {
		if errors.Is(err, syncerr.ErrConnectivity) {
			return e.wentOffline(ctx, res, err)
		}
		return err
	}
	if res.Outcome == OutcomePending {
		return nil
	}
	return e.completed(ctx, res)
}

// commitLocal commits pending edits. A vault without commits gets its
// initial commit only when it holds notes, so an empty vault still
// classifies as bootstrap or adopt-remote.
func (e *Engine) commitLocal(ctx context.Context) (bool, error) {
	if gitx.HasCommits(ctx, e.runner, e.vault) {
		return gitx.CommitAll(ctx, e.runner, e.vault, e.syncCommitMessage())
	}
	files, err := discovery.Files(ctx, e.fs, e.vault, discovery.Options{Exclude: e.cfg.Backup.Exclude, Meaningful: true})
	if err != nil {
		return false, fmt.Errorf("list vault files: %w", err)
	}
	if len(files) == 0 {
		return false, nil
	}
	e.log.Info("committing existing notes", zap.Int("files", len(files)))
	return gitx.CommitAll(ctx, e.runner, e.vault, InitialCommitMessage)
}

// completed marks the session synced at HEAD and prunes old snapshots.
func (e *Engine) completed(ctx context.Context, res *SyncResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	head, err := gitx.RevParse(ctx, e.runner, e.vault, "HEAD")
	if err != nil {
		return err
	}
	res.Commit = head
	if err := e.offline.Synced(ctx, head); err != nil {
		return err
	}
	if pruned, err := e.backups.PruneDefault(); err != nil {
		e.log.Warn("prune backups", zap.Error(err))
	} else if len(pruned) > 0 {
		e.log.Info("pruned backups", zap.Strings("snapshots", pruned))
	}
	return nil
}

func (e *Engine) wentOffline(ctx context.Context, res *SyncResult, cause error) error {
	e.log.Warn("working offline", zap.Error(cause))
	if err := e.offline.ConnectivityLost(ctx); err != nil {
		return err
	}
	res.Outcome = OutcomeOffline
	res.Message = cause.Error()
	return nil
}

func (e *Engine) ensureRepo(ctx context.Context, opts SyncOptions, res *SyncResult) error {
	ok, err := gitx.IsRepo(ctx, e.runner, e.vault)
	if err != nil {
		return err
	}
	if !ok {
		branch := e.cfg.Vault.Branch
		if branch == "" {
			branch = "main"
		}
		if err := gitx.Init(ctx, e.runner, e.vault, branch); err != nil {
			return err
		}
		e.log.Info("initialized repository", zap.String("vault", e.vault), zap.String("branch", branch))
	}
	// Merges and checkouts may replace .gitignore; info/exclude survives them.
	if _, err := backup.EnsureExcluded(e.fs, e.vault); err != nil {
		return err
	}

	plan, err := remotemismatch.BuildPlan(ctx, e.runner, e.vault, e.remote(), e.cfg.Vault.RemoteURL, opts.ReconcileRemote)
	if err != nil {
		return err
	}
	url, err := remotemismatch.ApplyPlan(ctx, e.runner, plan)
	if err != nil {
		return err
	}
	if plan.Action == remotemismatch.ActionSetConfig {
		e.cfg.Vault.RemoteURL = url
		res.ConfigChanged = true
	}
	if plan.Action != remotemismatch.ActionNone {
		e.log.Info("remote reconciled", zap.String("action", string(plan.Action)), zap.String("url", url))
	}
	return nil
}

func (e *Engine) bootstrap(ctx context.Context, state *model.RepositoryState, res *SyncResult) error {
	res.Outcome = OutcomeBootstrapped
	if state.RemoteHasCommits {
		if err := e.integrateRemote(ctx, state, res); err != nil {
			return err
		}
		return e.pushIfAhead(ctx, state)
	}
	placeholder := filepath.Join(e.vault, PlaceholderFile)
	if !fileutil.Exists(e.fs, placeholder) {
		if err := fileutil.AtomicWrite(e.fs, placeholder, []byte(PlaceholderContent), 0o644); err != nil {
			return err
		}
	}
	if _, err := gitx.CommitAll(ctx, e.runner, e.vault, InitialCommitMessage); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.push(ctx, state.Branch)
}

func (e *Engine) adoptRemote(ctx context.Context, state *model.RepositoryState, res *SyncResult) error {
	res.Outcome = OutcomeAdopted
	snap, err := e.backups.Create(ctx, model.ReasonSetupSafety, "before adopting "+state.RemoteBranch, nil)
	if err != nil {
		return err
	}
	res.SnapshotID = snap.ID

	if !state.LocalHasCommits {
		if err := gitx.ResetBranch(ctx, e.runner, e.vault, state.Branch, state.RemoteBranch); err != nil {
			return syncerr.WithSnapshot(err, snap.ID, "")
		}
		return nil
	}
	err = gitx.MergeFastForward(ctx, e.runner, e.vault, state.RemoteBranch)
	if err == nil {
		return nil
	}
	e.log.Info("fast-forward not possible, adopting remote tree", zap.Error(err))
	if err := e.applyStrategy(ctx, state, model.StrategyKeepRemote, res); err != nil {
		return err
	}
	return e.pushIfAhead(ctx, state)
}

func (e *Engine) publishLocal(ctx context.Context, state *model.RepositoryState, res *SyncResult) error {
	res.Outcome = OutcomePublished
	msg := e.syncCommitMessage()
	if !state.LocalHasCommits {
		msg = InitialCommitMessage
	}
	if _, err := gitx.CommitAll(ctx, e.runner, e.vault, msg); err != nil {
		return err
	}
	if err := e.integrateRemote(ctx, state, res); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.push(ctx, state.Branch)
}

// integrateRemote joins placeholder remote history into the local branch so
// a following push is a fast-forward.
func (e *Engine) integrateRemote(ctx context.Context, state *model.RepositoryState, res *SyncResult) error {
	if !state.RemoteHasCommits {
		return nil
	}
	if !gitx.HasCommits(ctx, e.runner, e.vault) {
		return gitx.ResetBranch(ctx, e.runner, e.vault, state.Branch, state.RemoteBranch)
	}
	if gitx.IsAncestor(ctx, e.runner, e.vault, state.RemoteBranch, "HEAD") {
		return nil
	}
	if gitx.IsAncestor(ctx, e.runner, e.vault, "HEAD", state.RemoteBranch) {
		return gitx.MergeFastForward(ctx, e.runner, e.vault, state.RemoteBranch)
	}
	return e.applyStrategy(ctx, state, model.StrategyKeepLocal, res)
}

func (e *Engine) reconcile(ctx context.Context, opts SyncOptions, state *model.RepositoryState, res *SyncResult) error {
	path := offline.Plan(state)
	e.log.Debug("reconcile plan", zap.String("path", string(path)))
	if path != offline.PathUpToDate && path != offline.PathFastForward && e.offline.State() == model.StateOnlineSynced {
		if err := e.offline.LocalMutation(ctx); err != nil {
			return err
		}
	}

	switch path {
	case offline.PathUpToDate:
		res.Outcome = OutcomeUpToDate
		return nil
	case offline.PathPush:
		res.Outcome = OutcomePushed
		return e.push(ctx, state.Branch)
	case offline.PathFastForward:
		res.Outcome = OutcomeFastForwarded
		return gitx.MergeFastForward(ctx, e.runner, e.vault, state.RemoteBranch)
	}

	res.Outcome = OutcomeMerged
	strategy, err := e.chooseStrategy(ctx, opts, state)
	if err != nil {
		return err
	}
	if err := e.offline.BeginReconcile(ctx); err != nil {
		return err
	}
	if err := e.applyStrategy(ctx, state, strategy, res); err != nil {
		return err
	}
	if res.Outcome == OutcomePending {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.push(ctx, state.Branch)
}

func (e *Engine) chooseStrategy(ctx context.Context, opts SyncOptions, state *model.RepositoryState) (model.Strategy, error) {
	if opts.Strategy != "" {
		return opts.Strategy, nil
	}
	configured, err := e.cfg.DefaultStrategy()
	if err != nil {
		return "", err
	}
	if configured != "" {
		return configured, nil
	}
	if e.chooser == nil {
		return "", fmt.Errorf("local and remote histories diverged; pass --strategy (smart-merge, keep-local or keep-remote)")
	}
	return e.chooser.ChooseStrategy(ctx, model.StrategyRequest{
		Scenario: state.Scenario,
		State:    state,
		Options:  model.Strategies,
	})
}

// applyStrategy runs Stage 1 and, for leftover conflicts, Stage 2. Deferred
// files set the pending outcome.
func (e *Engine) applyStrategy(ctx context.Context, state *model.RepositoryState, strategy model.Strategy, res *SyncResult) error {
	res.Strategy = strategy
	mr, err := e.merger.Apply(ctx, e.vault, state, strategy)
	if mr != nil && mr.SnapshotID != "" {
		res.SnapshotID = mr.SnapshotID
	}
	if err != nil {
		return err
	}
	if len(mr.Conflicts) == 0 {
		return nil
	}
	return e.runResolver(ctx, mr.Conflicts, res)
}

func (e *Engine) runResolver(ctx context.Context, conflicts []model.FileConflict, res *SyncResult) error {
	out, err := e.resolver.Resolve(ctx, e.vault, conflicts)
	if out != nil {
		res.Resolutions = out.Resolutions
		if out.SnapshotID != "" {
			res.SnapshotID = out.SnapshotID
		}
	}
	if errors.Is(err, syncerr.ErrResolutionIncomplete) {
		res.Outcome = OutcomePending
		res.Pending = syncerr.Paths(err)
		res.Message = fmt.Sprintf("%d file(s) deferred; run 'vaultkeeper resolve' to finish", len(res.Pending))
		if serr := e.offline.BeginReconcile(ctx); serr != nil {
			return serr
		}
		return nil
	}
	return err
}

func (e *Engine) resolvePending(ctx context.Context, res *SyncResult) error {
	if _, err := e.offline.Start(ctx); err != nil {
		return err
	}
	if !gitx.MergeInProgress(ctx, e.runner, e.vault) {
		res.Outcome = OutcomeUpToDate
		res.Message = "no merge is waiting for resolution"
		return nil
	}
	conflicts, err := resolve.ResumeConflicts(ctx, e.runner, e.vault)
	if err != nil {
		return err
	}
	res.Outcome = OutcomeMerged
	if err := e.runResolver(ctx, conflicts, res); err != nil {
		return err
	}
	if res.Outcome == OutcomePending {
		return nil
	}
	if !e.offline.Online() {
		return e.wentOffline(ctx, res, errors.New("remote unreachable; the merge is committed locally"))
	}
	branch, err := e.branch(ctx)
	if err != nil {
		return err
	}
	if err := e.push(ctx, branch); err != nil {
		if errors.Is(err, syncerr.ErrConnectivity) {
			return e.wentOffline(ctx, res, err)
		}
		return err
	}
	return e.completed(ctx, res)
}

// pushIfAhead pushes when HEAD has commits the remote branch lacks.
func (e *Engine) pushIfAhead(ctx context.Context, state *model.RepositoryState) error {
	if gitx.IsAncestor(ctx, e.runner, e.vault, "HEAD", state.RemoteBranch) {
		return nil
	}
	return e.push(ctx, state.Branch)
}

func (e *Engine) push(ctx context.Context, branch string) error {
	netCtx, cancel := context.WithTimeout(ctx, e.cfg.NetworkTimeout())
	defer cancel()
	err := gitx.Push(netCtx, e.runner, e.vault, e.remote(), "HEAD:refs/heads/"+branch)
	if err == nil {
		e.log.Info("pushed", zap.String("remote", e.remote()), zap.String("branch", branch))
		return nil
	}
	if ctx.Err() == nil && (gitx.IsConnectivity(err) || netCtx.Err() != nil) {
		return syncerr.Connectivity("push "+e.remote(), err)
	}
	return err
}

// branch is the configured branch, else the checked-out one.
func (e *Engine) branch(ctx context.Context) (string, error) {
	if e.cfg.Vault.Branch != "" {
		return e.cfg.Vault.Branch, nil
	}
	head, err := gitx.Head(ctx, e.runner, e.vault)
	if err != nil {
		return "", err
	}
	if head.Detached || head.Branch == "" {
		return "", fmt.Errorf("HEAD is detached; check out a branch or set vault.branch")
	}
	return head.Branch, nil
}

func (e *Engine) remote() string {
	if e.cfg.Vault.Remote == "" {
		return "origin"
	}
	return e.cfg.Vault.Remote
}

func (e *Engine) syncCommitMessage() string {
	return "Vault sync - " + e.now().Format("2006-01-02 15:04:05")
}
