package offline_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/offline"
)

type recorder struct{ transitions []model.Transition }

func (r *recorder) RecordTransition(_ string, t model.Transition) error {
	r.transitions = append(r.transitions, t)
	return nil
}

type fakeBackups struct{ reasons []model.BackupReason }

func (f *fakeBackups) Create(_ context.Context, reason model.BackupReason, _ string, _ []string) (*model.Snapshot, error) {
	f.reasons = append(f.reasons, reason)
	return &model.Snapshot{ID: fmt.Sprintf("snap-%d", len(f.reasons))}, nil
}

var _ = Describe("Manager", func() {
	var (
		fsys    afero.Fs
		store   *offline.SessionStore
		rec     *recorder
		backups *fakeBackups
		online  bool
		ctx     = context.Background()
	)

	newManager := func() *offline.Manager {
		return offline.NewManager(store, offline.Options{
			Probe: func(context.Context) error {
				if online {
					return nil
				}
				return errors.New("dial tcp: no route to host")
			},
			Recorder: rec,
			Backups:  backups,
			Now:      func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
		})
	}

	BeforeEach(func() {
		fsys = afero.NewMemMapFs()
		store = offline.NewSessionStore(fsys, "/vault")
		rec = &recorder{}
		backups = &fakeBackups{}
		online = true
	})

	It("creates and persists a fresh session on first start", func() {
		m := newManager()
		sess, err := m.Start(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.ID).NotTo(BeEmpty())
		Expect(sess.State).To(Equal(model.StateOnlineSynced))

		loaded, found, err := store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(loaded.ID).To(Equal(sess.ID))
		Expect(store.Path()).To(Equal("/vault/.vaultkeeper/session.yaml"))
	})

	It("rejects events before Start", func() {
		m := newManager()
		Expect(errors.Is(m.LocalMutation(ctx), offline.ErrNotStarted)).To(BeTrue())
		Expect(errors.Is(m.ConnectivityLost(ctx), offline.ErrNotStarted)).To(BeTrue())
		Expect(errors.Is(m.ConnectivityRestored(ctx), offline.ErrNotStarted)).To(BeTrue())
		Expect(errors.Is(m.BeginReconcile(ctx), offline.ErrNotStarted)).To(BeTrue())
		Expect(errors.Is(m.Synced(ctx, "c0ffee"), offline.ErrNotStarted)).To(BeTrue())
		Expect(m.Session()).To(BeNil())
	})

	It("goes dirty on a local mutation and offline-dirty when connectivity drops", func() {
		m := newManager()
		_, err := m.Start(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(m.LocalMutation(ctx)).To(Succeed())
		Expect(m.State()).To(Equal(model.StateOnlineDirty))
		Expect(m.ConnectivityLost(ctx)).To(Succeed())
		Expect(m.State()).To(Equal(model.StateOfflineDirty))
		Expect(m.Online()).To(BeFalse())
		Expect(m.Session().SnapshotID).To(Equal("snap-1"))
		Expect(backups.reasons).To(Equal([]model.BackupReason{model.ReasonSyncOperation}))

		last := rec.transitions[len(rec.transitions)-1]
		Expect(last.Mode).To(Equal(model.SyncOnlineToOffline))
		Expect(last.Event).To(Equal("connectivity-lost"))
	})

	It("reconciles after connectivity returns and ends synced", func() {
		m := newManager()
		_, _ = m.Start(ctx)
		Expect(m.ConnectivityLost(ctx)).To(Succeed())
		Expect(m.LocalMutation(ctx)).To(Succeed())
		Expect(m.State()).To(Equal(model.StateOfflineDirty))

		Expect(m.ConnectivityRestored(ctx)).To(Succeed())
		Expect(m.State()).To(Equal(model.StateReconciling))
		Expect(m.Synced(ctx, "abc123")).To(Succeed())

		sess := m.Session()
		Expect(sess.State).To(Equal(model.StateOnlineSynced))
		Expect(sess.PendingLocalChanges).To(BeFalse())
		Expect(sess.LastKnownSyncCommit).To(Equal("abc123"))
		Expect(sess.SnapshotID).To(BeEmpty())
	})

	It("keeps pending state in the session across restarts", func() {
		m := newManager()
		_, _ = m.Start(ctx)
		Expect(m.LocalMutation(ctx)).To(Succeed())

		online = false
		sess, err := newManager().Start(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.State).To(Equal(model.StateOfflineDirty))
		Expect(sess.PendingLocalChanges).To(BeTrue())

		online = true
		sess, err = newManager().Start(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.State).To(Equal(model.StateReconciling))
	})

	It("stays synced but offline when started without a network", func() {
		online = false
		m := newManager()
		sess, err := m.Start(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.State).To(Equal(model.StateOnlineSynced))
		Expect(sess.Mode).To(Equal(model.ModeOffline))

		Expect(m.LocalMutation(ctx)).To(Succeed())
		Expect(m.State()).To(Equal(model.StateOfflineDirty))
	})

	It("caps the persisted transition history", func() {
		m := newManager()
		_, _ = m.Start(ctx)
		for i := 0; i < 40; i++ {
			Expect(m.LocalMutation(ctx)).To(Succeed())
			Expect(m.Synced(ctx, "c")).To(Succeed())
		}
		loaded, _, err := store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Transitions).To(HaveLen(offline.MaxTransitions))
	})

	It("only moves dirty sessions into reconciling", func() {
		m := newManager()
		_, _ = m.Start(ctx)
		Expect(m.BeginReconcile(ctx)).To(Succeed())
		Expect(m.State()).To(Equal(model.StateOnlineSynced))
		Expect(m.LocalMutation(ctx)).To(Succeed())
		Expect(m.BeginReconcile(ctx)).To(Succeed())
		Expect(m.State()).To(Equal(model.StateReconciling))
	})
})

var _ = DescribeTable("Plan",
	func(state model.RepositoryState, want offline.Path) {
		Expect(offline.Plan(&state)).To(Equal(want))
	},
	Entry("identical", model.RepositoryState{LocalHasCommits: true, RemoteHasCommits: true, CommonAncestor: true}, offline.PathUpToDate),
	Entry("local ahead", model.RepositoryState{LocalHasCommits: true, RemoteHasCommits: true, CommonAncestor: true, RemoteBehind: true}, offline.PathPush),
	Entry("remote ahead", model.RepositoryState{LocalHasCommits: true, RemoteHasCommits: true, CommonAncestor: true, RemoteAhead: true}, offline.PathFastForward),
	Entry("diverged", model.RepositoryState{LocalHasCommits: true, RemoteHasCommits: true, CommonAncestor: true, RemoteAhead: true, RemoteBehind: true, Diverged: true}, offline.PathStrategy),
	Entry("unrelated histories", model.RepositoryState{LocalHasCommits: true, RemoteHasCommits: true}, offline.PathStrategy),
	Entry("uncommitted notes against remote content", model.RepositoryState{RemoteHasCommits: true, LocalFiles: []string{"local-note.md"}}, offline.PathStrategy),
)
