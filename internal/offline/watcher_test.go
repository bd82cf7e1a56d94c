package offline_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/vaultkeeper/internal/offline"
)

var _ = Describe("Watcher", func() {
	var (
		root string
		w    *offline.Watcher
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		Expect(os.MkdirAll(filepath.Join(root, ".git"), 0o755)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(root, ".vaultkeeper"), 0o755)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(root, "notes"), 0o755)).To(Succeed())
		var err error
		w, err = offline.NewWatcher(root, 50*time.Millisecond, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(w.Stop)
	})

	It("coalesces a burst of writes into one change", func() {
		for i := 0; i < 5; i++ {
			Expect(os.WriteFile(filepath.Join(root, "notes", "a.md"), []byte{byte('a' + i)}, 0o644)).To(Succeed())
		}
		Eventually(w.Changes()).Should(Receive())
		Consistently(w.Changes(), 200*time.Millisecond).ShouldNot(Receive())
	})

	It("ignores git and state directory churn", func() {
		Expect(os.WriteFile(filepath.Join(root, ".git", "index"), []byte("x"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, ".vaultkeeper", "session.yaml"), []byte("x"), 0o644)).To(Succeed())
		Consistently(w.Changes(), 300*time.Millisecond).ShouldNot(Receive())
	})

	It("watches directories created after start", func() {
		dir := filepath.Join(root, "new")
		Expect(os.Mkdir(dir, 0o755)).To(Succeed())
		Eventually(w.Changes()).Should(Receive())
		Expect(os.WriteFile(filepath.Join(dir, "b.md"), []byte("b"), 0o644)).To(Succeed())
		Eventually(w.Changes()).Should(Receive())
	})
})
