//go:build integration

package engine_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/vaultkeeper/internal/backup"
	"github.com/skaphos/vaultkeeper/internal/classify"
	"github.com/skaphos/vaultkeeper/internal/config"
	"github.com/skaphos/vaultkeeper/internal/engine"
	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/merge"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/offline"
	"github.com/skaphos/vaultkeeper/internal/resolve"
)

var gitEnv = []string{
	"GIT_AUTHOR_NAME=Vault Test",
	"GIT_AUTHOR_EMAIL=vault@example.com",
	"GIT_COMMITTER_NAME=Vault Test",
	"GIT_COMMITTER_EMAIL=vault@example.com",
}

type keepRemotePrompter struct{ asked []string }

func (p *keepRemotePrompter) ResolveFile(_ context.Context, req model.FileRequest) (model.FileAnswer, error) {
	p.asked = append(p.asked, req.Path)
	return model.FileAnswer{Kind: model.ResolveKeepRemote}, nil
}

var _ = Describe("Engine integration", func() {
	var (
		ctx    = context.Background()
		remote string
		runner *gitx.GitRunner
	)

	runGit := func(dir string, args ...string) string {
		cmd := exec.Command("git", append([]string{"-c", "commit.gpgsign=false"}, args...)...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), gitEnv...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			Fail("git " + strings.Join(args, " ") + ": " + string(out))
		}
		return strings.TrimSpace(string(out))
	}

	writeFile := func(path, content string) {
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	}

	newEngineProbe := func(vault string, prompter model.FilePrompter, probe func(context.Context) error) *engine.Engine {
		cfg := config.DefaultConfig()
		cfg.Vault.Path = vault
		cfg.Vault.RemoteURL = remote
		cfg.Vault.Branch = "main"
		backups, err := backup.New(nil, vault, backup.Options{Exclude: cfg.Backup.Exclude})
		Expect(err).NotTo(HaveOccurred())
		return engine.New(engine.Deps{
			Vault:      vault,
			Config:     &cfg,
			Runner:     runner,
			Backups:    backups,
			Classifier: classify.New(runner, classify.Options{Branch: "main", Exclude: cfg.Backup.Exclude}),
			Merger:     merge.New(runner, backups, merge.Options{}),
			Resolver:   resolve.New(runner, backups, prompter, resolve.Options{}),
			Offline:    offline.NewManager(offline.NewSessionStore(nil, vault), offline.Options{Backups: backups, Probe: probe}),
		})
	}

	newEngine := func(vault string, prompter model.FilePrompter) *engine.Engine {
		return newEngineProbe(vault, prompter, nil)
	}

	// diverge leaves vaultB one committed edit of note.md apart from a
	// remote that changed note.md and added other.md.
	diverge := func() (string, string) {
		root := filepath.Dir(remote)
		vaultA := filepath.Join(root, "a")
		vaultB := filepath.Join(root, "b")
		writeFile(filepath.Join(vaultA, "note.md"), "base\n")
		_, err := newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(os.MkdirAll(vaultB, 0o755)).To(Succeed())
		_, err = newEngine(vaultB, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())

		writeFile(filepath.Join(vaultA, "note.md"), "a side\n")
		writeFile(filepath.Join(vaultA, "other.md"), "other\n")
		_, err = newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())

		writeFile(filepath.Join(vaultB, "note.md"), "b side\n")
		runGit(vaultB, "add", "-A")
		runGit(vaultB, "commit", "-m", "b edit")
		return vaultA, vaultB
	}

	classifier := func() *classify.Classifier {
		return classify.New(runner, classify.Options{Branch: "main", Exclude: config.DefaultConfig().Backup.Exclude})
	}

	merger := func(vault string) *merge.Engine {
		backups, err := backup.New(nil, vault, backup.Options{})
		Expect(err).NotTo(HaveOccurred())
		return merge.New(runner, backups, merge.Options{})
	}

	BeforeEach(func() {
		if _, err := exec.LookPath("git"); err != nil {
			Skip("git not installed")
		}
		root := GinkgoT().TempDir()
		remote = filepath.Join(root, "remote.git")
		runGit(root, "init", "--bare", "--initial-branch=main", remote)
		runner = &gitx.GitRunner{Env: gitEnv}
	})

	It("bootstraps, adopts and merges across two vaults", func() {
		root := filepath.Dir(remote)
		vaultA := filepath.Join(root, "a")
		vaultB := filepath.Join(root, "b")
		Expect(os.MkdirAll(vaultA, 0o755)).To(Succeed())
		Expect(os.MkdirAll(vaultB, 0o755)).To(Succeed())

		writeFile(filepath.Join(vaultA, "note.md"), "first\n")
		res, err := newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.OK()).To(BeTrue())
		Expect(runGit(remote, "ls-tree", "-r", "--name-only", "main")).To(ContainSubstring("note.md"))

		res, err = newEngine(vaultB, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomeAdopted))
		data, err := os.ReadFile(filepath.Join(vaultB, "note.md"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("first\n"))

		writeFile(filepath.Join(vaultA, "note.md"), "from a\n")
		res, err = newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomePushed))

		writeFile(filepath.Join(vaultB, "note.md"), "from b\n")
		prompter := &keepRemotePrompter{}
		res, err = newEngine(vaultB, prompter).Sync(ctx, engine.SyncOptions{Strategy: model.StrategySmartMerge})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomeMerged))
		Expect(prompter.asked).To(Equal([]string{"note.md"}))
		data, err = os.ReadFile(filepath.Join(vaultB, "note.md"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("from a\n"))
		Expect(res.SnapshotID).NotTo(BeEmpty())

		res, err = newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomeFastForwarded))
		Expect(runGit(vaultA, "rev-parse", "HEAD")).To(Equal(runGit(vaultB, "rev-parse", "HEAD")))
	})

	It("bootstraps an empty vault with exactly one commit", func() {
		vault := filepath.Join(filepath.Dir(remote), "fresh")
		Expect(os.MkdirAll(vault, 0o755)).To(Succeed())

		res, err := newEngine(vault, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomeBootstrapped))
		Expect(runGit(vault, "rev-list", "--count", "HEAD")).To(Equal("1"))
		Expect(runGit(remote, "rev-list", "--count", "main")).To(Equal("1"))
		Expect(runGit(remote, "ls-tree", "-r", "--name-only", "main")).To(ContainSubstring(engine.PlaceholderFile))
	})

	It("merges uncommitted notes of a fresh vault with remote content", func() {
		root := filepath.Dir(remote)
		vaultA := filepath.Join(root, "a")
		vaultB := filepath.Join(root, "b")
		writeFile(filepath.Join(vaultA, "remote-note.md"), "from a\n")
		_, err := newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())

		writeFile(filepath.Join(vaultB, "local-note.md"), "from b\n")
		res, err := newEngine(vaultB, nil).Sync(ctx, engine.SyncOptions{Strategy: model.StrategySmartMerge})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomeMerged))
		Expect(res.State).To(Equal(model.StateOnlineSynced))

		tree := runGit(remote, "ls-tree", "-r", "--name-only", "main")
		Expect(tree).To(ContainSubstring("remote-note.md"))
		Expect(tree).To(ContainSubstring("local-note.md"))
		data, err := os.ReadFile(filepath.Join(vaultB, "remote-note.md"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("from a\n"))
	})

	It("never pushes local state after the remote replaces .gitignore", func() {
		root := filepath.Dir(remote)
		seed := filepath.Join(root, "seed")
		runGit(root, "clone", remote, seed)
		writeFile(filepath.Join(seed, ".gitignore"), "*.tmp\n")
		writeFile(filepath.Join(seed, "seed.md"), "seed\n")
		runGit(seed, "add", "-A")
		runGit(seed, "commit", "-m", "seed")
		runGit(seed, "push", "origin", "HEAD:refs/heads/main")

		vault := filepath.Join(root, "b")
		Expect(os.MkdirAll(vault, 0o755)).To(Succeed())
		eng := newEngine(vault, nil)
		res, err := eng.Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomeAdopted))
		ignore, err := os.ReadFile(filepath.Join(vault, ".gitignore"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(ignore)).NotTo(ContainSubstring(".vaultkeeper"))

		writeFile(filepath.Join(vault, "seed.md"), "edited\n")
		res, err = eng.Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomePushed))
		Expect(filepath.Join(vault, ".vaultkeeper")).To(BeADirectory())
		Expect(runGit(remote, "ls-tree", "-r", "--name-only", "main")).NotTo(ContainSubstring(".vaultkeeper"))
		Expect(runGit(remote, "show", "main:seed.md")).To(Equal("edited"))
	})

	It("classifies an unchanged vault the same way twice", func() {
		_, vaultB := diverge()
		first, err := classifier().Classify(ctx, vaultB)
		Expect(err).NotTo(HaveOccurred())
		second, err := classifier().Classify(ctx, vaultB)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
		Expect(first.Scenario).To(Equal(model.ScenarioReconcile))
		Expect(first.Diverged).To(BeTrue())
	})

	It("keeps remote idempotently and retains the local commit", func() {
		_, vaultB := diverge()
		localHead := runGit(vaultB, "rev-parse", "HEAD")
		state, err := classifier().Classify(ctx, vaultB)
		Expect(err).NotTo(HaveOccurred())
		m := merger(vaultB)

		_, err = m.Apply(ctx, vaultB, state, model.StrategyKeepRemote)
		Expect(err).NotTo(HaveOccurred())
		tree := runGit(vaultB, "rev-parse", "HEAD^{tree}")
		Expect(tree).To(Equal(runGit(vaultB, "rev-parse", "origin/main^{tree}")))
		runGit(vaultB, "merge-base", "--is-ancestor", localHead, "HEAD")

		_, err = m.Apply(ctx, vaultB, state, model.StrategyKeepRemote)
		Expect(err).NotTo(HaveOccurred())
		Expect(runGit(vaultB, "rev-parse", "HEAD^{tree}")).To(Equal(tree))
		data, err := os.ReadFile(filepath.Join(vaultB, "note.md"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("a side\n"))
	})

	It("keeps local while recording the remote commit", func() {
		_, vaultB := diverge()
		state, err := classifier().Classify(ctx, vaultB)
		Expect(err).NotTo(HaveOccurred())
		remoteHead := runGit(vaultB, "rev-parse", "origin/main")

		_, err = merger(vaultB).Apply(ctx, vaultB, state, model.StrategyKeepLocal)
		Expect(err).NotTo(HaveOccurred())
		runGit(vaultB, "merge-base", "--is-ancestor", remoteHead, "HEAD")
		Expect(runGit(vaultB, "show", "HEAD:note.md")).To(Equal("b side"))
		Expect(runGit(vaultB, "show", "HEAD:other.md")).To(Equal("other"))
	})

	It("reconciles offline edits with remote edits after reconnecting", func() {
		root := filepath.Dir(remote)
		vaultA := filepath.Join(root, "a")
		vaultB := filepath.Join(root, "b")
		writeFile(filepath.Join(vaultA, "a.md"), "a base\n")
		writeFile(filepath.Join(vaultA, "b.md"), "b base\n")
		_, err := newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())

		reachable := true
		probe := func(context.Context) error {
			if reachable {
				return nil
			}
			return errors.New("network is unreachable")
		}
		Expect(os.MkdirAll(vaultB, 0o755)).To(Succeed())
		_, err = newEngineProbe(vaultB, nil, probe).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())

		reachable = false
		writeFile(filepath.Join(vaultB, "a.md"), "edited offline\n")
		res, err := newEngineProbe(vaultB, nil, probe).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomeOffline))
		Expect(res.State).To(Equal(model.StateOfflineDirty))

		writeFile(filepath.Join(vaultA, "b.md"), "edited remotely\n")
		_, err = newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())

		reachable = true
		res, err = newEngineProbe(vaultB, nil, probe).Sync(ctx, engine.SyncOptions{Strategy: model.StrategySmartMerge})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomeMerged))
		Expect(res.State).To(Equal(model.StateOnlineSynced))
		Expect(runGit(remote, "show", "main:a.md")).To(Equal("edited offline"))
		Expect(runGit(remote, "show", "main:b.md")).To(Equal("edited remotely"))
	})

	It("keeps a deferred file pending until resolve finishes it", func() {
		root := filepath.Dir(remote)
		vaultA := filepath.Join(root, "a")
		vaultB := filepath.Join(root, "b")
		writeFile(filepath.Join(vaultA, "note.md"), "base\n")
		_, err := newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(os.MkdirAll(vaultB, 0o755)).To(Succeed())
		_, err = newEngine(vaultB, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())

		writeFile(filepath.Join(vaultA, "note.md"), "a side\n")
		_, err = newEngine(vaultA, nil).Sync(ctx, engine.SyncOptions{})
		Expect(err).NotTo(HaveOccurred())
		writeFile(filepath.Join(vaultB, "note.md"), "b side\n")

		skip := &deferringPrompter{}
		res, err := newEngine(vaultB, skip).Sync(ctx, engine.SyncOptions{Strategy: model.StrategySmartMerge})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomePending))
		Expect(res.Pending).To(Equal([]string{"note.md"}))

		res, err = newEngine(vaultB, &keepRemotePrompter{}).ResolvePending(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(engine.OutcomeMerged))
		Expect(runGit(remote, "show", "main:note.md")).To(Equal("a side"))
	})
})

type deferringPrompter struct{}

func (deferringPrompter) ResolveFile(context.Context, model.FileRequest) (model.FileAnswer, error) {
	return model.FileAnswer{Kind: model.ResolveSkipDeferred}, nil
}
