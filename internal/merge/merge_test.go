package merge_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/gitx/gitxtest"
	"github.com/skaphos/vaultkeeper/internal/merge"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

type fakeBackups struct {
	reasons  []model.BackupReason
	err      error
	recovery []string
}

func (f *fakeBackups) Create(_ context.Context, reason model.BackupReason, _ string, _ []string) (*model.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.reasons = append(f.reasons, reason)
	return &model.Snapshot{ID: "snap-1", Reason: reason}, nil
}

func (f *fakeBackups) RecoveryInstructions(id string) (string, error) {
	f.recovery = append(f.recovery, id)
	return "/vault/.vaultkeeper/backups/RECOVERY-" + id + ".txt", nil
}

const (
	autoCommit = ":-c commit.gpgsign=false commit --no-verify -m " + merge.AutoCommitMessage
	oursMerge  = ":merge --no-ff --no-commit -s ours --allow-unrelated-histories origin/main"
)

var nothingToCommit = &gitx.CommandError{ExitCode: 1, Stdout: "nothing to commit, working tree clean", Err: errors.New("exit status 1")}

var _ = Describe("Engine.Apply", func() {
	var (
		mock    *gitxtest.MockRunner
		backups *fakeBackups
		engine  *merge.Engine
		state   *model.RepositoryState
		ctx     = context.Background()
	)

	BeforeEach(func() {
		mock = &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			":add -A":                                {},
			autoCommit:                               {Err: nothingToCommit},
			":rev-parse --verify HEAD":               {Output: "c0ffee\n"},
			":rev-parse --verify --quiet MERGE_HEAD": {},
			":merge --abort":                         {},
		}}
		backups = &fakeBackups{}
		engine = merge.New(mock, backups, merge.Options{})
		state = &model.RepositoryState{Branch: "main", RemoteBranch: "origin/main", LocalHasCommits: true, RemoteHasCommits: true}
	})

	It("aborts before touching git when the backup fails", func() {
		backups.err = syncerr.BackupFailure("backup", errors.New("disk full"))
		_, err := engine.Apply(ctx, "/vault", state, model.StrategySmartMerge)
		Expect(errors.Is(err, syncerr.ErrBackupFailure)).To(BeTrue())
		Expect(mock.Calls).To(BeEmpty())
	})

	It("rejects unknown strategies", func() {
		_, err := engine.Apply(ctx, "/vault", state, model.Strategy("rebase"))
		Expect(err).To(MatchError(ContainSubstring("unknown strategy")))
		Expect(backups.reasons).To(BeEmpty())
	})

	Context("smart merge", func() {
		const smart = ":merge --no-ff --no-edit --allow-unrelated-histories -m Merge origin/main into local vault origin/main"

		It("commits a clean merge", func() {
			mock.Responses[smart] = gitxtest.Response{}
			res, err := engine.Apply(ctx, "/vault", state, model.StrategySmartMerge)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Clean).To(BeTrue())
			Expect(res.Commit).To(Equal("c0ffee"))
			Expect(res.SnapshotID).To(Equal("snap-1"))
			Expect(backups.reasons).To(Equal([]model.BackupReason{model.ReasonConflictResolution}))
		})

		It("reports conflicts with their stage blobs and stages identical paths", func() {
			mock.Responses[smart] = gitxtest.Response{Err: errors.New("CONFLICT")}
			mock.Responses[":diff --name-only --diff-filter=U -z"] = gitxtest.Response{Output: "same.md\x00notes/a.md\x00"}
			mock.Responses[":show :2:notes/a.md"] = gitxtest.Response{Output: "local\n"}
			mock.Responses[":show :3:notes/a.md"] = gitxtest.Response{Output: "remote\n"}
			mock.Responses[":show :1:notes/a.md"] = gitxtest.Response{Output: "base\n"}
			mock.Responses[":show :2:same.md"] = gitxtest.Response{Output: "x"}
			mock.Responses[":show :3:same.md"] = gitxtest.Response{Output: "x"}
			mock.Responses[":checkout --ours -- same.md"] = gitxtest.Response{}
			mock.Responses[":add -- same.md"] = gitxtest.Response{}

			res, err := engine.Apply(ctx, "/vault", state, model.StrategySmartMerge)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Clean).To(BeFalse())
			Expect(res.Conflicts).To(HaveLen(1))
			c := res.Conflicts[0]
			Expect(c.Path).To(Equal("notes/a.md"))
			Expect(string(c.Local)).To(Equal("local\n"))
			Expect(string(c.Remote)).To(Equal("remote\n"))
			Expect(string(c.Base)).To(Equal("base\n"))
			Expect(mock.Called("merge", "--abort")).To(BeFalse())
		})

		It("commits when every conflict was byte-identical", func() {
			mock.Responses[smart] = gitxtest.Response{Err: errors.New("CONFLICT")}
			mock.Responses[":diff --name-only --diff-filter=U -z"] = gitxtest.Response{Output: "same.md\x00"}
			mock.Responses[":show :2:same.md"] = gitxtest.Response{Output: "x"}
			mock.Responses[":show :3:same.md"] = gitxtest.Response{Output: "x"}
			mock.Responses[":checkout --ours -- same.md"] = gitxtest.Response{}
			mock.Responses[":add -- same.md"] = gitxtest.Response{}
			mock.Responses[":-c commit.gpgsign=false commit --no-verify -m Merge origin/main into local vault"] = gitxtest.Response{}

			res, err := engine.Apply(ctx, "/vault", state, model.StrategySmartMerge)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Clean).To(BeTrue())
			Expect(res.Conflicts).To(BeEmpty())
		})

		It("aborts and attaches the snapshot when the merge fails without conflicts", func() {
			mock.Responses[smart] = gitxtest.Response{Err: errors.New("fatal: refusing")}
			mock.Responses[":diff --name-only --diff-filter=U -z"] = gitxtest.Response{}

			_, err := engine.Apply(ctx, "/vault", state, model.StrategySmartMerge)
			Expect(err).To(HaveOccurred())
			Expect(syncerr.SnapshotID(err)).To(Equal("snap-1"))
			Expect(syncerr.RecoveryPath(err)).To(HaveSuffix("RECOVERY-snap-1.txt"))
			Expect(mock.Called("merge", "--abort")).To(BeTrue())
		})
	})

	It("keeps local files and adds remote-only paths", func() {
		mock.Responses[":merge-base HEAD origin/main"] = gitxtest.Response{Output: "base\n"}
		mock.Responses[oursMerge] = gitxtest.Response{}
		mock.Responses[":ls-tree -r --name-only -z origin/main"] = gitxtest.Response{Output: "a.md\x00new.md\x00old.md\x00"}
		mock.Responses[":ls-tree -r --name-only -z HEAD"] = gitxtest.Response{Output: "a.md\x00"}
		mock.Responses[":ls-tree -r --name-only -z base"] = gitxtest.Response{Output: "a.md\x00old.md\x00"}
		mock.Responses[":checkout origin/main -- new.md"] = gitxtest.Response{}
		mock.Responses[":-c commit.gpgsign=false commit --no-verify -m Merge origin/main, keeping local versions"] = gitxtest.Response{}

		res, err := engine.Apply(ctx, "/vault", state, model.StrategyKeepLocal)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Clean).To(BeTrue())
		Expect(mock.Called("checkout", "origin/main", "--", "old.md")).To(BeFalse())
	})

	It("adopts the remote tree after a setup-safety snapshot", func() {
		mock.Responses[oursMerge] = gitxtest.Response{}
		mock.Responses[":ls-tree -r --name-only -z origin/main"] = gitxtest.Response{Output: "a.md\x00"}
		mock.Responses[":ls-tree -r --name-only -z HEAD"] = gitxtest.Response{Output: "a.md\x00local.md\x00"}
		mock.Responses[":rm -q -f --ignore-unmatch -- local.md"] = gitxtest.Response{}
		mock.Responses[":checkout origin/main -- ."] = gitxtest.Response{}
		mock.Responses[":-c commit.gpgsign=false commit --no-verify -m Merge origin/main, adopting remote versions"] = gitxtest.Response{Err: nothingToCommit}

		res, err := engine.Apply(ctx, "/vault", state, model.StrategyKeepRemote)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Clean).To(BeTrue())
		Expect(backups.reasons).To(Equal([]model.BackupReason{model.ReasonSetupSafety}))
	})

	It("aborts the merge and writes recovery instructions when keep-remote fails", func() {
		mock.Responses[oursMerge] = gitxtest.Response{}
		mock.Responses[":ls-tree -r --name-only -z origin/main"] = gitxtest.Response{Err: errors.New("bad object")}

		_, err := engine.Apply(ctx, "/vault", state, model.StrategyKeepRemote)
		Expect(err).To(HaveOccurred())
		Expect(syncerr.SnapshotID(err)).To(Equal("snap-1"))
		Expect(backups.recovery).To(Equal([]string{"snap-1"}))
		Expect(mock.Called("merge", "--abort")).To(BeTrue())
	})
})
