// Package model defines the core data types used throughout VaultKeeper.
package model

// Remote represents a single git remote.
type Remote struct {
	// Name is the configured remote name (for example, "origin").
	Name string `json:"name" yaml:"name"`
	// URL is the remote fetch/push URL.
	URL string `json:"url" yaml:"url"`
}

// Head represents the current HEAD state of a vault repository.
type Head struct {
	// Branch is the current branch name when HEAD is attached.
	Branch string `json:"branch" yaml:"branch"`
	// Detached reports whether HEAD is detached.
	Detached bool `json:"detached" yaml:"detached"`
}

// Worktree represents the working tree status.
type Worktree struct {
	// Dirty indicates whether the worktree has any local modifications.
	Dirty bool `json:"dirty" yaml:"dirty"`
	// Staged is the count of staged file changes.
	Staged int `json:"staged" yaml:"staged"`
	// Unstaged is the count of unstaged file changes.
	Unstaged int `json:"unstaged" yaml:"unstaged"`
	// Untracked is the count of untracked files.
	Untracked int `json:"untracked" yaml:"untracked"`
	// Conflicted is the count of unmerged paths.
	Conflicted int `json:"conflicted" yaml:"conflicted"`
}

// Scenario is one of the four classified repository states.
type Scenario string

const (
	// ScenarioBootstrap means both sides are empty.
	ScenarioBootstrap Scenario = "bootstrap"
	// ScenarioAdoptRemote means only the remote has content.
	ScenarioAdoptRemote Scenario = "adopt-remote"
	// ScenarioPublishLocal means only the local vault has content.
	ScenarioPublishLocal Scenario = "publish-local"
	// ScenarioReconcile means both sides have content.
	ScenarioReconcile Scenario = "reconcile"
)

// RepositoryState is the derived, never persisted, view of a vault and its
// remote at the start of a sync attempt.
type RepositoryState struct {
	// Scenario is the single classification assigned to this state.
	Scenario Scenario `json:"scenario" yaml:"scenario"`
	// LocalHasCommits reports whether the local branch has at least one commit.
	LocalHasCommits bool `json:"local_has_commits" yaml:"local_has_commits"`
	// RemoteHasCommits reports whether the remote branch exists.
	RemoteHasCommits bool `json:"remote_has_commits" yaml:"remote_has_commits"`
	// LocalFiles are the meaningful working-tree files, slash separated and sorted.
	LocalFiles []string `json:"local_files" yaml:"local_files"`
	// RemoteFiles are the meaningful files of the remote branch tree.
	RemoteFiles []string `json:"remote_files" yaml:"remote_files"`
	// Branch is the branch name synchronized with the remote (for example, "main").
	Branch string `json:"branch" yaml:"branch"`
	// RemoteBranch is the remote-tracking ref used for comparison (for example, "origin/main").
	RemoteBranch string `json:"remote_branch,omitempty" yaml:"remote_branch,omitempty"`
	// RemoteAhead reports whether the remote has commits the local branch lacks.
	RemoteAhead bool `json:"remote_ahead" yaml:"remote_ahead"`
	// RemoteBehind reports whether the local branch has commits the remote lacks.
	RemoteBehind bool `json:"remote_behind" yaml:"remote_behind"`
	// Diverged is true when both RemoteAhead and RemoteBehind hold.
	Diverged bool `json:"diverged" yaml:"diverged"`
	// Ahead is the number of local commits missing from the remote.
	Ahead int `json:"ahead" yaml:"ahead"`
	// Behind is the number of remote commits missing locally.
	Behind int `json:"behind" yaml:"behind"`
	// CommonAncestor is false for unrelated histories.
	CommonAncestor bool `json:"common_ancestor" yaml:"common_ancestor"`
}

// LocalEmpty reports whether the vault has no meaningful files.
func (s *RepositoryState) LocalEmpty() bool { return len(s.LocalFiles) == 0 }

// RemoteEmpty reports whether the remote has no meaningful files.
func (s *RepositoryState) RemoteEmpty() bool { return len(s.RemoteFiles) == 0 }
