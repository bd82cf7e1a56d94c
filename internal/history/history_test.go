package history_test

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/vaultkeeper/internal/history"
	"github.com/skaphos/vaultkeeper/internal/model"
)

var _ = Describe("Store", func() {
	var store *history.Store

	BeforeEach(func() {
		var err error
		store, err = history.Open(filepath.Join(GinkgoT().TempDir(), "state", history.FileName))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)
	})

	It("records sync attempts and counts them by status", func() {
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		Expect(store.RecordSync(history.SyncRecord{Outcome: "pushed", SyncedAt: base}, nil)).To(Succeed())
		Expect(store.RecordSync(history.SyncRecord{Outcome: "offline", Status: history.StatusOffline, SyncedAt: base.Add(time.Minute)}, nil)).To(Succeed())
		Expect(store.RecordSync(history.SyncRecord{Outcome: "failed", SyncedAt: base.Add(2 * time.Minute)}, errors.New("push rejected"))).To(Succeed())

		stats, err := store.Stats()
		Expect(err).NotTo(HaveOccurred())
		Expect(stats).To(Equal(history.Stats{Total: 3, Success: 1, Offline: 1, Failed: 1}))

		recent, err := store.RecentSyncs(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(recent).To(HaveLen(2))
		Expect(recent[0].Outcome).To(Equal("failed"))
		Expect(recent[0].ErrMsg).To(Equal("push rejected"))
		Expect(recent[1].Outcome).To(Equal("offline"))

		failed, err := store.Failed()
		Expect(err).NotTo(HaveOccurred())
		Expect(failed).To(HaveLen(1))
	})

	It("records transitions", func() {
		t := model.Transition{
			From:  model.StateOnlineDirty,
			To:    model.StateOfflineDirty,
			Event: "connectivity-lost",
			Mode:  model.SyncOnlineToOffline,
			At:    time.Now().UTC(),
		}
		Expect(store.RecordTransition("sess-1", t)).To(Succeed())

		recs, err := store.RecentTransitions(10)
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
		Expect(recs[0].SessionID).To(Equal("sess-1"))
		Expect(recs[0].ToState).To(Equal(string(model.StateOfflineDirty)))
	})
})
