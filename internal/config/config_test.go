package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/vaultkeeper/internal/config"
	"github.com/skaphos/vaultkeeper/internal/model"
)

var _ = Describe("Config", func() {
	It("resolves config path from override directory", func() {
		path, err := config.ConfigPath(filepath.Join("C:", "tmp", "vaultkeeper"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveSuffix(filepath.Join("vaultkeeper", "config.yaml")))
	})

	It("resolves config path from override file", func() {
		path, err := config.ConfigPath(filepath.Join("C:", "tmp", "config.yaml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveSuffix(filepath.Join("tmp", "config.yaml")))
	})

	It("resolves config path from env", func() {
		GinkgoT().Setenv("VAULTKEEPER_CONFIG", filepath.Join("C:", "cfg", "config.yaml"))
		path, err := config.ConfigPath("")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveSuffix(filepath.Join("cfg", "config.yaml")))
	})

	It("resolves init path to local dotfile by default", func() {
		dir := GinkgoT().TempDir()
		path, err := config.InitConfigPath("", dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(dir, ".vaultkeeper.yaml")))
	})

	It("resolves runtime config from nearest parent dotfile", func() {
		dir := GinkgoT().TempDir()
		parentPath := filepath.Join(dir, ".vaultkeeper.yaml")
		Expect(os.WriteFile(parentPath, []byte("vault:\n  remote: origin\n"), 0o644)).To(Succeed())

		nested := filepath.Join(dir, "notes", "daily")
		Expect(os.MkdirAll(nested, 0o755)).To(Succeed())

		path, err := config.ResolveConfigPath("", nested)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(parentPath))
	})

	It("prefers nearer dotfile over farther parent", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, ".vaultkeeper.yaml"), []byte("{}\n"), 0o644)).To(Succeed())

		childDir := filepath.Join(dir, "a", "b")
		Expect(os.MkdirAll(childDir, 0o755)).To(Succeed())
		childPath := filepath.Join(childDir, ".vaultkeeper.yaml")
		Expect(os.WriteFile(childPath, []byte("{}\n"), 0o644)).To(Succeed())

		path, err := config.ResolveConfigPath("", childDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(childPath))
	})

	It("falls back to global runtime config when local dotfile is absent", func() {
		dir := GinkgoT().TempDir()
		path, err := config.ResolveConfigPath("", dir)
		Expect(err).NotTo(HaveOccurred())

		globalPath, err := config.ConfigPath("")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(globalPath))
	})

	It("saves and loads config with defaults", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, ".vaultkeeper.yaml")
		cfg := config.DefaultConfig()
		cfg.Vault.RemoteURL = "git@github.com:me/notes.git"
		cfg.Sync.DefaultStrategy = "keep-local"

		Expect(config.Save(&cfg, path)).To(Succeed())
		loaded, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Vault.RemoteURL).To(Equal("git@github.com:me/notes.git"))
		Expect(loaded.Vault.Remote).To(Equal("origin"))
		Expect(loaded.NetworkTimeout()).To(Equal(30 * time.Second))
		Expect(loaded.Backup.Exclude).To(Equal(config.DefaultConfig().Backup.Exclude))

		strategy, err := loaded.DefaultStrategy()
		Expect(err).NotTo(HaveOccurred())
		Expect(strategy).To(Equal(model.StrategyKeepLocal))
		Expect(config.EffectiveVault(path, loaded)).To(Equal(dir))
	})

	It("fills missing keys from defaults", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("sync:\n  debounce_millis: 250\n"), 0o644)).To(Succeed())

		loaded, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.APIVersion).To(Equal(config.ConfigAPIVersion))
		Expect(loaded.Debounce()).To(Equal(250 * time.Millisecond))
		Expect(loaded.Sync.WatchIntervalSeconds).To(Equal(60))
		Expect(loaded.Backup.MaxPerReason).To(Equal(10))
	})

	It("applies environment overrides", func() {
		GinkgoT().Setenv("VAULTKEEPER_SYNC_DEFAULT_STRATEGY", "keep-remote")
		GinkgoT().Setenv("VAULTKEEPER_VAULT_BRANCH", "trunk")

		loaded, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Vault.Branch).To(Equal("trunk"))
		strategy, err := loaded.DefaultStrategy()
		Expect(err).NotTo(HaveOccurred())
		Expect(strategy).To(Equal(model.StrategyKeepRemote))
	})

	It("reports a missing file as not-exist", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "absent.yaml"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("rejects unknown strategies and bad timeouts", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("sync:\n  default_strategy: yolo\n  network_timeout_seconds: 0\n"), 0o644)).To(Succeed())

		_, err := config.Load(path)
		Expect(err).To(MatchError(ContainSubstring("sync.default_strategy")))
		Expect(err).To(MatchError(ContainSubstring("network_timeout_seconds")))
	})

	It("converts retention settings into a prune policy", func() {
		cfg := config.DefaultConfig()
		policy := cfg.BackupPolicy()
		Expect(policy.MaxCount).To(Equal(10))
		Expect(policy.MaxAge).To(Equal(30 * 24 * time.Hour))
		Expect(policy.MaxTotalSize).To(Equal(int64(500 << 20)))
	})

	It("resolves relative vault paths against the config file", func() {
		Expect(config.ResolveVaultPath("/home/me/.config/vaultkeeper/config.yaml", "../../notes")).
			To(Equal(filepath.Clean("/home/me/notes")))
		Expect(config.ResolveVaultPath("/etc/config.yaml", "/srv/vault")).To(Equal("/srv/vault"))
		Expect(config.EffectiveVault("/home/me/.config/vaultkeeper/config.yaml", &config.Config{})).To(BeEmpty())
	})
})
