// SPDX-License-Identifier: MIT
package vaultkeeper

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skaphos/vaultkeeper/internal/cliio"
	"github.com/skaphos/vaultkeeper/internal/engine"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/termstyle"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report local sync state without contacting the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := formatFor(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, prompts{prompter: cliio.Fixed{}})
		if err != nil {
			return err
		}
		defer a.close()

		rep, err := a.engine.Status(cmd.Context())
		if err != nil {
			return err
		}
		if statusHasWarnings(rep) {
			raiseExitCode(exitWarning)
		}
		if mode != outputTable {
			return writeStructured(cmd.OutOrStdout(), mode, rep)
		}
		return writeStatusTable(cmd, rep, colorEnabled(cmd))
	},
}

func statusHasWarnings(rep *engine.StatusReport) bool {
	if rep.MergeInProgress {
		return true
	}
	return rep.Session != nil && rep.Session.State == model.StateOfflineDirty
}

func writeStatusTable(cmd *cobra.Command, rep *engine.StatusReport, color bool) error {
	state := "never synced"
	stateColor := ""
	lastSync := "-"
	if rep.Session != nil {
		state = string(rep.Session.State)
		stateColor = termstyle.StateColor(rep.Session.State)
		if rep.Session.LastKnownSyncCommit != "" {
			lastSync = shortCommit(rep.Session.LastKnownSyncCommit)
		}
	}
	branch := rep.Head.Branch
	if rep.Head.Detached {
		branch = "(detached)"
	}
	worktree := "clean"
	if rep.Worktree != nil && rep.Worktree.Dirty {
		worktree = fmt.Sprintf("dirty (%d staged, %d unstaged, %d untracked)", rep.Worktree.Staged, rep.Worktree.Unstaged, rep.Worktree.Untracked)
	}
	tracking := "-"
	if rep.Upstream != "" {
		tracking = fmt.Sprintf("%s ahead %d, behind %d", rep.Upstream, rep.Ahead, rep.Behind)
	}
	snapshot := "-"
	if rep.LatestSnapshot != nil {
		snapshot = rep.LatestSnapshot.ID
	}
	rows := [][]string{
		{"vault", rep.Vault},
		{"state", termstyle.Colorize(color, state, stateColor)},
		{"branch", branch},
		{"head", shortCommit(rep.Commit)},
		{"last sync", lastSync},
		{"worktree", worktree},
		{"tracking", tracking},
		{"latest snapshot", snapshot},
	}
	if rep.MergeInProgress {
		rows = append(rows, []string{"pending", termstyle.Colorize(color, strings.Join(rep.Pending, ", "), termstyle.Warn)})
	}
	if err := cliio.WriteTable(cmd.OutOrStdout(), true, true, nil, rows); err != nil {
		return err
	}
	for _, c := range rep.Unpushed {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "  unpushed: %s\n", c)
		logOutputWriteFailure(cmd, "status unpushed", err)
	}
	return nil
}

func init() {
	addFormatFlag(statusCmd)

	rootCmd.AddCommand(statusCmd)
}
