package registry_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/registry"
)

var _ = Describe("Registry", func() {
	var fsys afero.Fs
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	snap := func(id string, offset time.Duration) model.Snapshot {
		return model.Snapshot{
			ID:          id,
			Reason:      model.ReasonSyncOperation,
			CreatedAt:   base.Add(offset),
			Files:       []string{"a.md"},
			StoragePath: "/vault/.vaultkeeper/backups/" + id,
		}
	}

	BeforeEach(func() {
		fsys = afero.NewMemMapFs()
	})

	It("saves and loads registry", func() {
		reg := &registry.Registry{UpdatedAt: base}
		reg.Upsert(snap("one", 0))
		Expect(registry.Save(fsys, reg, "/vault/.vaultkeeper/backups/registry.yaml")).To(Succeed())

		loaded, err := registry.Load(fsys, "/vault/.vaultkeeper/backups/registry.yaml")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Entries).To(HaveLen(1))
		Expect(loaded.Entries[0].Snapshot.ID).To(Equal("one"))
		Expect(loaded.Entries[0].Snapshot.Files).To(Equal([]string{"a.md"}))
		Expect(loaded.Entries[0].Status).To(Equal(registry.StatusPresent))
	})

	It("returns an empty registry when none was written yet", func() {
		reg, err := registry.LoadOrEmpty(fsys, "/nope/registry.yaml")
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.Entries).To(BeEmpty())
		Expect(reg.Latest()).To(BeNil())
	})

	It("keeps entries ordered by creation time and upserts by id", func() {
		reg := &registry.Registry{}
		reg.Upsert(snap("late", 2*time.Hour))
		reg.Upsert(snap("early", 0))
		reg.Upsert(snap("late", 2*time.Hour))
		Expect(reg.Entries).To(HaveLen(2))
		Expect(reg.Entries[0].Snapshot.ID).To(Equal("early"))
		Expect(reg.Latest().Snapshot.ID).To(Equal("late"))
		Expect(reg.Find("early")).NotTo(BeNil())
		Expect(reg.Find("missing")).To(BeNil())
	})

	It("removes entries by id", func() {
		reg := &registry.Registry{}
		reg.Upsert(snap("one", 0))
		Expect(reg.Remove("one")).To(BeTrue())
		Expect(reg.Remove("one")).To(BeFalse())
		Expect(reg.Entries).To(BeEmpty())
	})

	It("validates storage paths and prunes missing snapshots", func() {
		reg := &registry.Registry{}
		reg.Upsert(snap("kept", 0))
		reg.Upsert(snap("gone", time.Hour))
		Expect(fsys.MkdirAll("/vault/.vaultkeeper/backups/kept", os.ModePerm)).To(Succeed())

		Expect(reg.ValidatePaths(fsys)).To(Succeed())
		Expect(reg.Find("gone").Status).To(Equal(registry.StatusMissing))
		Expect(reg.PruneMissing()).To(Equal(1))
		Expect(reg.Snapshots()).To(HaveLen(1))
		Expect(reg.Snapshots()[0].ID).To(Equal("kept"))
	})
})
