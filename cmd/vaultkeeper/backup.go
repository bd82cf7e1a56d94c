// SPDX-License-Identifier: MIT
package vaultkeeper

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/skaphos/vaultkeeper/internal/cliio"
	"github.com/skaphos/vaultkeeper/internal/lock"
	"github.com/skaphos/vaultkeeper/internal/model"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage vault snapshots",
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, oldest first",
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

		snaps, err := a.backups.List()
		if err != nil {
			return err
		}
		if mode != outputTable {
			return writeStructured(cmd.OutOrStdout(), mode, snaps)
		}
		noHeaders, _ := cmd.Flags().GetBool("no-headers")
		return writeSnapshotTable(cmd, snaps, noHeaders)
	},
}

func writeSnapshotTable(cmd *cobra.Command, snaps []model.Snapshot, noHeaders bool) error {
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		kind := "partial"
		if s.Full {
			kind = "full"
		}
		rows = append(rows, []string{
			s.ID,
			string(s.Reason),
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			kind,
			strconv.Itoa(len(s.Files)),
			humanSize(s.SizeBytes),
			s.Description,
		})
	}
	return cliio.WriteTable(cmd.OutOrStdout(), false, noHeaders,
		[]string{"ID", "REASON", "CREATED", "KIND", "FILES", "SIZE", "DESCRIPTION"}, rows)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

var backupCreateCmd = &cobra.Command{
	Use:   "create [files...]",
	Short: "Snapshot the vault, or only the given vault-relative files",
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		a, err := newApp(cmd, prompts{prompter: cliio.Fixed{}})
		if err != nil {
			return err
		}
		defer a.close()

		var files []string
		if len(args) > 0 {
			files = args
		}
		snap, err := a.backups.Create(cmd.Context(), model.ReasonUserRequested, description, files)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%d files, %s)\n", snap.ID, len(snap.Files), humanSize(snap.SizeBytes))
		logOutputWriteFailure(cmd, "backup create", err)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore the vault from a snapshot",
	Long:  "Overwrites vault files with the snapshot's content. The current state is snapshotted first, so a restore can itself be undone.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		a, err := newApp(cmd, prompts{prompter: cliio.Fixed{}})
		if err != nil {
			return err
		}
		defer a.close()

		target, err := a.backups.Get(args[0])
		if err != nil {
			return err
		}
		if !yes {
			if !interactive(cmd) {
				return fmt.Errorf("refusing to overwrite vault files without confirmation (use --yes)")
			}
			ok, err := cliio.PromptYesNo(cmd.ErrOrStderr(), cmd.InOrStdin(),
				fmt.Sprintf("Restore %d file(s) from %s into %s? [y/N]: ", len(target.Files), target.ID, a.vault))
			if err != nil {
				return err
			}
			if !ok {
				infof(cmd, "restore cancelled")
				return nil
			}
		}

		l, err := lock.Acquire(a.vault)
		if err != nil {
			return err
		}
		defer func() { _ = l.Release() }()

		pre, err := a.backups.Restore(cmd.Context(), target.ID)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", target.ID)
		logOutputWriteFailure(cmd, "backup restore", err)
		if pre != nil {
			infof(cmd, "previous state saved as %s", pre.ID)
		}
		return nil
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove snapshots beyond the retention limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, prompts{prompter: cliio.Fixed{}})
		if err != nil {
			return err
		}
		defer a.close()

		policy := a.cfg.BackupPolicy()
		if cmd.Flags().Changed("max-age-days") {
			days, _ := cmd.Flags().GetInt("max-age-days")
			policy.MaxAge = time.Duration(days) * 24 * time.Hour
		}
		if cmd.Flags().Changed("max-per-reason") {
			policy.MaxCount, _ = cmd.Flags().GetInt("max-per-reason")
		}
		if cmd.Flags().Changed("max-total-size-mb") {
			mb, _ := cmd.Flags().GetInt("max-total-size-mb")
			policy.MaxTotalSize = int64(mb) << 20
		}
		removed, err := a.backups.Prune(policy)
		if err != nil {
			return err
		}
		for _, id := range removed {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			logOutputWriteFailure(cmd, "backup prune", err)
		}
		infof(cmd, "pruned %d snapshot(s)", len(removed))
		return nil
	},
}

var backupInstructionsCmd = &cobra.Command{
	Use:   "instructions <id>",
	Short: "Write and print recovery instructions for a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, prompts{prompter: cliio.Fixed{}})
		if err != nil {
			return err
		}
		defer a.close()

		path, err := a.backups.RecoveryInstructions(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		logOutputWriteFailure(cmd, "backup instructions", err)
		infof(cmd, "saved to %s", path)
		return nil
	},
}

func init() {
	addFormatFlag(backupListCmd)
	backupListCmd.Flags().Bool("no-headers", false, "when using table format, do not print headers")
	backupCreateCmd.Flags().StringP("description", "m", "manual snapshot", "description stored with the snapshot")
	backupRestoreCmd.Flags().BoolP("yes", "y", false, "restore without asking for confirmation")
	backupPruneCmd.Flags().Int("max-age-days", 0, "override backup.max_age_days (0 disables)")
	backupPruneCmd.Flags().Int("max-per-reason", 0, "override backup.max_per_reason (0 disables)")
	backupPruneCmd.Flags().Int("max-total-size-mb", 0, "override backup.max_total_size_mb (0 disables)")

	backupCmd.AddCommand(backupListCmd, backupCreateCmd, backupRestoreCmd, backupPruneCmd, backupInstructionsCmd)
	rootCmd.AddCommand(backupCmd)
}
