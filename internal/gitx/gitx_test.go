package gitx_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/gitx/gitxtest"
	"github.com/skaphos/vaultkeeper/internal/model"
)

var _ = Describe("GitRunner.Run", func() {
	var runner *gitx.GitRunner

	BeforeEach(func() {
		runner = &gitx.GitRunner{}
	})

	It("runs git version successfully", func() {
		out, err := runner.Run(context.Background(), "", "version")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("git version"))
	})

	It("returns a CommandError with the exit code and stderr", func() {
		dir := GinkgoT().TempDir()
		_, err := runner.Run(context.Background(), dir, "rev-parse", "--verify", "HEAD")
		Expect(err).To(HaveOccurred())
		var ce *gitx.CommandError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.ExitCode).To(BeNumerically(">", 0))
		Expect(ce.Stderr).NotTo(BeEmpty())
		Expect(gitx.ExitCode(err)).To(Equal(ce.ExitCode))
	})

	It("respects context cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := runner.Run(ctx, "", "version")
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	It("keeps stdout byte-exact", func() {
		out, err := runner.Run(context.Background(), "", "-c", "core.x=1", "config", "--get", "core.x")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("1\n"))
	})
})

var _ = Describe("ExitCode", func() {
	It("returns -1 for foreign errors", func() {
		Expect(gitx.ExitCode(errors.New("boom"))).To(Equal(-1))
	})
})

var _ = Describe("helpers", func() {
	ctx := context.Background()

	It("detects repositories", func() {
		mock := &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			"/vault:rev-parse --is-inside-work-tree": {Output: "true\n"},
			"/other:rev-parse --is-inside-work-tree": {Err: errors.New("not a repo")},
		}}
		ok, err := gitx.IsRepo(ctx, mock, "/vault")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		ok, err = gitx.IsRepo(ctx, mock, "/other")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("reads the current branch and falls back to the detached hash", func() {
		mock := &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			"/vault:symbolic-ref --quiet --short HEAD": {Output: "main\n"},
		}}
		head, err := gitx.Head(ctx, mock, "/vault")
		Expect(err).NotTo(HaveOccurred())
		Expect(head).To(Equal(model.Head{Branch: "main"}))

		mock = &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			"/vault:symbolic-ref --quiet --short HEAD": {Err: errors.New("detached")},
			"/vault:rev-parse --short HEAD":            {Output: "abc1234\n"},
		}}
		head, err = gitx.Head(ctx, mock, "/vault")
		Expect(err).NotTo(HaveOccurred())
		Expect(head).To(Equal(model.Head{Branch: "abc1234", Detached: true}))
	})

	It("lists remote heads and tree files", func() {
		mock := &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			"/vault:ls-remote --heads origin":                         {Output: "a\trefs/heads/main\n"},
			"/vault:ls-tree -r --name-only -z origin/main":            {Output: "README.md\x00notes/a.md\x00"},
			"/vault:rev-list --left-right --count HEAD...origin/main": {Output: "2\t5\n"},
		}}
		heads, err := gitx.RemoteHeads(ctx, mock, "/vault", "origin")
		Expect(err).NotTo(HaveOccurred())
		Expect(heads).To(Equal([]string{"main"}))

		files, err := gitx.TreeFiles(ctx, mock, "/vault", "origin/main")
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(Equal([]string{"README.md", "notes/a.md"}))

		ahead, behind, err := gitx.AheadBehind(ctx, mock, "/vault", "origin/main")
		Expect(err).NotTo(HaveOccurred())
		Expect(ahead).To(Equal(2))
		Expect(behind).To(Equal(5))
	})

	It("fetches a single branch with an explicit refspec", func() {
		mock := &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			"/vault:-c fetch.recurseSubmodules=false fetch --no-tags origin +refs/heads/main:refs/remotes/origin/main": {},
		}}
		Expect(gitx.FetchBranch(ctx, mock, "/vault", "origin", "main")).To(Succeed())
	})

	It("tolerates nothing to commit", func() {
		nothing := &gitx.CommandError{Args: []string{"commit"}, ExitCode: 1, Stdout: "nothing to commit, working tree clean", Err: errors.New("exit status 1")}
		mock := &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			"/vault:add -A":                                            {},
			"/vault:-c commit.gpgsign=false commit --no-verify -m msg": {Err: nothing},
		}}
		committed, err := gitx.CommitAll(ctx, mock, "/vault", "msg")
		Expect(err).NotTo(HaveOccurred())
		Expect(committed).To(BeFalse())
	})

	It("surfaces real commit failures", func() {
		mock := &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			"/vault:-c commit.gpgsign=false commit --no-verify -m msg": {Err: errors.New("Please tell me who you are")},
		}}
		_, err := gitx.Commit(ctx, mock, "/vault", "msg")
		Expect(err).To(MatchError(ContainSubstring("git commit")))
	})

	It("reads stage blobs and reports missing stages", func() {
		mock := &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			"/vault:show :2:a.md": {Output: "ours\n"},
			"/vault:show :1:a.md": {Err: errors.New("no stage 1")},
		}}
		ours, ok := gitx.StageBlob(ctx, mock, "/vault", 2, "a.md")
		Expect(ok).To(BeTrue())
		Expect(string(ours)).To(Equal("ours\n"))
		_, ok = gitx.StageBlob(ctx, mock, "/vault", 1, "a.md")
		Expect(ok).To(BeFalse())
	})

	It("skips empty path lists without running git", func() {
		mock := &gitxtest.MockRunner{}
		Expect(gitx.Add(ctx, mock, "/vault")).To(Succeed())
		Expect(gitx.Remove(ctx, mock, "/vault")).To(Succeed())
		Expect(gitx.CheckoutPaths(ctx, mock, "/vault", "origin/main")).To(Succeed())
		Expect(mock.Calls).To(BeEmpty())
	})

	It("lists unpushed commits", func() {
		mock := &gitxtest.MockRunner{Responses: map[string]gitxtest.Response{
			"/vault:log --oneline origin/main..HEAD": {Output: "abc one\ndef two\n"},
		}}
		commits, err := gitx.UnpushedCommits(ctx, mock, "/vault", "origin/main")
		Expect(err).NotTo(HaveOccurred())
		Expect(commits).To(Equal([]string{"abc one", "def two"}))
	})
})
