// SPDX-License-Identifier: MIT
package vaultkeeper

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skaphos/vaultkeeper/internal/cliio"
	"github.com/skaphos/vaultkeeper/internal/engine"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/remotemismatch"
	"github.com/skaphos/vaultkeeper/internal/termstyle"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Commit, merge and push the vault",
	Long:  "Commits local edits, classifies the vault against its remote and brings both into agreement. Unreachable remotes leave the changes committed locally for a later sync.",
	RunE: func(cmd *cobra.Command, args []string) error {
		strategyRaw, _ := cmd.Flags().GetString("strategy")
		resolveRaw, _ := cmd.Flags().GetString("resolve")
		reconcileRaw, _ := cmd.Flags().GetString("reconcile-remote-mismatch")

		var strategy model.Strategy
		if strategyRaw != "" {
			s, err := model.ParseStrategy(strategyRaw)
			if err != nil {
				return err
			}
			strategy = s
		}
		reconcile, err := remotemismatch.ParseReconcileMode(reconcileRaw)
		if err != nil {
			return err
		}
		p, err := promptsFor(cmd, resolveRaw)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, p)
		if err != nil {
			return err
		}
		defer a.close()

		debugf(cmd, "syncing %s", a.vault)
		res, err := a.engine.Sync(cmd.Context(), engine.SyncOptions{Strategy: strategy, ReconcileRemote: reconcile})
		if res != nil && res.ConfigChanged {
			if serr := a.saveConfig(cmd); serr != nil {
				return serr
			}
		}
		if err != nil {
			return err
		}
		writeSyncResult(cmd, res)
		if !res.OK() {
			raiseExitCode(exitWarning)
		}
		return nil
	},
}

// promptsFor returns terminal prompts on a TTY unless --resolve answers
// every file. Non-interactive runs smart-merge and defer what they cannot
// decide.
func promptsFor(cmd *cobra.Command, resolveRaw string) (prompts, error) {
	var kind model.ResolutionKind
	if resolveRaw != "" {
		k, err := model.ParseResolutionKind(resolveRaw)
		if err != nil {
			return prompts{}, err
		}
		kind = k
	}
	fixed := cliio.Fixed{Strategy: model.StrategySmartMerge, Resolution: kind}
	if !interactive(cmd) {
		return prompts{chooser: fixed, prompter: fixed}, nil
	}
	term := cliio.NewTerminal(cmd.InOrStdin(), cmd.ErrOrStderr(), colorEnabled(cmd))
	if kind != "" {
		return prompts{chooser: term, prompter: fixed}, nil
	}
	return prompts{chooser: term, prompter: term}, nil
}

func writeSyncResult(cmd *cobra.Command, res *engine.SyncResult) {
	color := colorEnabled(cmd)
	out := cmd.OutOrStdout()
	line := termstyle.Paint(color, string(res.Outcome), termstyle.OutcomeColor(string(res.Outcome)))
	if res.Scenario != "" {
		line += " (" + string(res.Scenario) + ")"
	}
	if res.Strategy != "" {
		line += " using " + string(res.Strategy)
	}
	_, err := fmt.Fprintln(out, line)
	logOutputWriteFailure(cmd, "sync result", err)

	if res.Commit != "" {
		infof(cmd, "commit:   %s", shortCommit(res.Commit))
	}
	if res.State != "" {
		infof(cmd, "state:    %s", termstyle.Paint(color, string(res.State), termstyle.StateColor(res.State)))
	}
	if res.SnapshotID != "" {
		infof(cmd, "snapshot: %s (restore with: vaultkeeper backup restore %s)", res.SnapshotID, res.SnapshotID)
	}
	for _, r := range res.Resolutions {
		detail := string(r.Kind)
		if r.RenamedPath != "" {
			detail += ", remote copy at " + r.RenamedPath
		}
		infof(cmd, "  resolved %s: %s", r.Path, detail)
	}
	if len(res.Pending) > 0 {
		infof(cmd, "pending:  %s", strings.Join(res.Pending, ", "))
	}
	if res.Message != "" {
		infof(cmd, "%s", res.Message)
	}
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func init() {
	syncCmd.Flags().String("strategy", "", "strategy for diverged histories: smart-merge, keep-local or keep-remote")
	syncCmd.Flags().String("resolve", "", "answer every conflicted file: keep-local, keep-remote, keep-both or skip-deferred")
	syncCmd.Flags().String("reconcile-remote-mismatch", "none", "when git and config disagree on the remote URL: none, config or git")

	rootCmd.AddCommand(syncCmd)
}
