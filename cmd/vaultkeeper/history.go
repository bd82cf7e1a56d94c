package vaultkeeper

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/skaphos/vaultkeeper/internal/cliio"
	"github.com/skaphos/vaultkeeper/internal/history"
	"github.com/skaphos/vaultkeeper/internal/termstyle"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		transitions, _ := cmd.Flags().GetBool("transitions")
		failed, _ := cmd.Flags().GetBool("failed")
		mode, err := formatFor(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, prompts{prompter: cliio.Fixed{}})
		if err != nil {
			return err
		}
		defer a.close()
		if a.history == nil {
			return fmt.Errorf("sync history is unavailable for %s", a.vault)
		}

		if transitions {
			recs, err := a.history.RecentTransitions(limit)
			if err != nil {
				return err
			}
			if mode != outputTable {
				return writeStructured(cmd.OutOrStdout(), mode, recs)
			}
			return writeTransitionTable(cmd, recs)
		}

		var recs []history.SyncRecord
		if failed {
			recs, err = a.history.Failed()
		} else {
			recs, err = a.history.RecentSyncs(limit)
		}
		if err != nil {
			return err
		}
		if mode != outputTable {
			return writeStructured(cmd.OutOrStdout(), mode, recs)
		}
		if err := writeSyncTable(cmd, recs, colorEnabled(cmd)); err != nil {
			return err
		}
		stats, err := a.history.Stats()
		if err != nil {
			return err
		}
		infof(cmd, "total %d: %d ok, %d pending, %d offline, %d failed", stats.Total, stats.Success, stats.Pending, stats.Offline, stats.Failed)
		return nil
	},
}

func writeSyncTable(cmd *cobra.Command, recs []history.SyncRecord, color bool) error {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.SyncedAt.Local().Format("2006-01-02 15:04:05"),
			termstyle.Colorize(color, string(r.Status), termstyle.OutcomeColor(string(r.Status))),
			r.Outcome,
			dash(r.Scenario),
			dash(r.Strategy),
			dash(shortCommit(r.Commit)),
			strconv.Itoa(r.Pending),
			dash(r.SnapshotID),
		})
	}
	return cliio.WriteTable(cmd.OutOrStdout(), true, false,
		[]string{"TIME", "STATUS", "OUTCOME", "SCENARIO", "STRATEGY", "COMMIT", "PENDING", "SNAPSHOT"}, rows)
}

func writeTransitionTable(cmd *cobra.Command, recs []history.TransitionRecord) error {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.At.Local().Format("2006-01-02 15:04:05"),
			r.FromState,
			r.ToState,
			r.Event,
			dash(r.Mode),
			dash(shortCommit(r.Commit)),
		})
	}
	return cliio.WriteTable(cmd.OutOrStdout(), false, false,
		[]string{"TIME", "FROM", "TO", "EVENT", "MODE", "COMMIT"}, rows)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of records to show")
	historyCmd.Flags().Bool("transitions", false, "show offline state transitions instead of sync attempts")
	historyCmd.Flags().Bool("failed", false, "show only failed sync attempts")
	addFormatFlag(historyCmd)

	rootCmd.AddCommand(historyCmd)
}
