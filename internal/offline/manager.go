// Package offline tracks whether a vault has local changes the remote has
// not seen, across connectivity loss and process restarts. The state machine
// has four states: online-synced, online-dirty, offline-dirty and
// reconciling. Every transition is persisted to the session file before the
// method returns.
package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skaphos/vaultkeeper/internal/model"
)

// Path is the action a reconcile-scenario sync needs.
type Path string

const (
	PathUpToDate    Path = "up-to-date"
	PathPush        Path = "push"
	PathFastForward Path = "fast-forward"
	PathStrategy    Path = "strategy"
)

// ErrNotStarted is returned by event methods called before Start.
var ErrNotStarted = errors.New("offline: session not started")

// Recorder receives every transition, typically the history store.
type Recorder interface {
	RecordTransition(sessionID string, t model.Transition) error
}

// Backupper snapshots the vault when it goes offline with pending changes.
type Backupper interface {
	Create(ctx context.Context, reason model.BackupReason, description string, files []string) (*model.Snapshot, error)
}

// Options configures a Manager.
type Options struct {
	// Probe reports connectivity; nil means always online.
	Probe    func(ctx context.Context) error
	Recorder Recorder
	Backups  Backupper
	Logger   *zap.Logger
	Now      func() time.Time
}

// Manager drives the offline state machine for one vault.
type Manager struct {
	mu       sync.Mutex
	store    *SessionStore
	sess     *model.SyncSession
	probe    func(ctx context.Context) error
	recorder Recorder
	backups  Backupper
	log      *zap.Logger
	now      func() time.Time
	online   bool
}

// NewManager returns a Manager persisting through store. Call Start before
// any other method.
func NewManager(store *SessionStore, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:    store,
		probe:    opts.Probe,
		recorder: opts.Recorder,
		backups:  opts.Backups,
		log:      opts.Logger.Named("offline"),
		now:      opts.Now,
	}
}

// Start loads or creates the session, probes connectivity and derives the
// starting state from both.
func (m *Manager) Start(ctx context.Context) (*model.SyncSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, found, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if !found {
		now := m.now().UTC()
		sess = &model.SyncSession{
			ID:        uuid.NewString(),
			StartedAt: now,
			UpdatedAt: now,
			Mode:      model.ModeOnline,
			State:     model.StateOnlineSynced,
		}
	}
	if sess.Mode == "" {
		sess.Mode = model.ModeOnline
	}
	if sess.State == "" {
		sess.State = model.StateOnlineSynced
	}
	m.sess = sess

	m.online = true
	if m.probe != nil {
		if err := m.probe(ctx); err != nil {
			m.online = false
			m.log.Info("remote unreachable", zap.Error(err))
		}
	}
	mode := model.ModeOffline
	if m.online {
		mode = model.ModeOnline
	}

	to := startState(sess.State, m.online)
	if to != sess.State || mode != sess.Mode || !found {
		return m.snapshot(), m.transition(ctx, to, "start", mode, "")
	}
	return m.snapshot(), nil
}

func startState(persisted model.OfflineState, online bool) model.OfflineState {
	switch persisted {
	case model.StateReconciling:
		return model.StateReconciling
	case model.StateOfflineDirty:
		if online {
			return model.StateReconciling
		}
		return model.StateOfflineDirty
	case model.StateOnlineDirty:
		if online {
			return model.StateOnlineDirty
		}
		return model.StateOfflineDirty
	default:
		return model.StateOnlineSynced
	}
}

// Stored returns the persisted session without probing or transitioning.
func (m *Manager) Stored() (*model.SyncSession, bool, error) {
	return m.store.Load()
}

// Online reports the result of the last probe or connectivity event.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Session returns a copy of the current session.
func (m *Manager) Session() *model.SyncSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// State returns the current state.
func (m *Manager) State() model.OfflineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return model.StateOnlineSynced
	}
	return m.sess.State
}

// LocalMutation records that the vault changed locally.
func (m *Manager) LocalMutation(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return ErrNotStarted
	}
	m.sess.PendingLocalChanges = true
	if m.sess.State != model.StateOnlineSynced {
		return m.save()
	}
	to := model.StateOnlineDirty
	if m.sess.Mode == model.ModeOffline {
		to = model.StateOfflineDirty
	}
	return m.transition(ctx, to, "local-mutation", m.sess.Mode, "")
}

// ConnectivityLost switches to offline mode. Dirty or reconciling sessions
// with pending changes become offline-dirty.
func (m *Manager) ConnectivityLost(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return ErrNotStarted
	}
	m.online = false
	to := m.sess.State
	switch m.sess.State {
	case model.StateOnlineDirty:
		to = model.StateOfflineDirty
	case model.StateReconciling:
		if m.sess.PendingLocalChanges {
			to = model.StateOfflineDirty
		}
	}
	return m.transition(ctx, to, "connectivity-lost", model.ModeOffline, "")
}

// ConnectivityRestored switches to online mode; offline-dirty sessions start
// reconciling.
func (m *Manager) ConnectivityRestored(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return ErrNotStarted
	}
	m.online = true
	to := m.sess.State
	if to == model.StateOfflineDirty {
		to = model.StateReconciling
	}
	return m.transition(ctx, to, "connectivity-restored", model.ModeOnline, "")
}

// BeginReconcile moves a dirty session into reconciling.
func (m *Manager) BeginReconcile(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return ErrNotStarted
	}
	switch m.sess.State {
	case model.StateOnlineDirty, model.StateOfflineDirty:
		return m.transition(ctx, model.StateReconciling, "begin-reconcile", m.sess.Mode, "")
	}
	return nil
}

// Synced records a successful sync at commit.
func (m *Manager) Synced(ctx context.Context, commit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return ErrNotStarted
	}
	m.online = true
	m.sess.PendingLocalChanges = false
	m.sess.LastKnownSyncCommit = commit
	m.sess.SnapshotID = ""
	return m.transition(ctx, model.StateOnlineSynced, "synced", model.ModeOnline, commit)
}

// Plan picks the action for a reconcile-scenario state.
func Plan(state *model.RepositoryState) Path {
	switch {
	case state.Diverged:
		return PathStrategy
	case state.LocalHasCommits && state.RemoteHasCommits && !state.CommonAncestor:
		return PathStrategy
	case !state.LocalHasCommits && state.RemoteHasCommits && len(state.LocalFiles) > 0:
		return PathStrategy
	case state.RemoteAhead:
		return PathFastForward
	case state.RemoteBehind || !state.RemoteHasCommits:
		return PathPush
	default:
		return PathUpToDate
	}
}

// transition must be called with mu held.
func (m *Manager) transition(ctx context.Context, to model.OfflineState, event string, mode model.NetworkMode, commit string) error {
	now := m.now().UTC()
	t := model.Transition{
		From:   m.sess.State,
		To:     to,
		Event:  event,
		Mode:   model.SyncModeFor(m.sess.Mode, mode),
		At:     now,
		Commit: commit,
	}
	if to == model.StateOfflineDirty && m.sess.State != model.StateOfflineDirty {
		m.snapshotOffline(ctx)
	}
	m.sess.State = to
	m.sess.Mode = mode
	m.sess.Transitions = append(m.sess.Transitions, t)
	if err := m.save(); err != nil {
		return err
	}
	m.log.Debug("session transition",
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("event", event),
		zap.String("mode", string(t.Mode)))
	if m.recorder != nil {
		if err := m.recorder.RecordTransition(m.sess.ID, t); err != nil {
			m.log.Warn("record transition", zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) snapshotOffline(ctx context.Context) {
	if m.backups == nil || !m.sess.PendingLocalChanges {
		return
	}
	snap, err := m.backups.Create(ctx, model.ReasonSyncOperation, "local changes while offline", nil)
	if err != nil {
		m.log.Warn("offline snapshot failed", zap.Error(err))
		return
	}
	m.sess.SnapshotID = snap.ID
}

func (m *Manager) save() error {
	m.sess.UpdatedAt = m.now().UTC()
	return m.store.Save(m.sess)
}

func (m *Manager) snapshot() *model.SyncSession {
	if m.sess == nil {
		return nil
	}
	cp := *m.sess
	cp.Transitions = append([]model.Transition(nil), m.sess.Transitions...)
	return &cp
}
