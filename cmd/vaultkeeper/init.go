// SPDX-License-Identifier: MIT
package vaultkeeper

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skaphos/vaultkeeper/internal/config"
	"github.com/skaphos/vaultkeeper/internal/model"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a VaultKeeper configuration",
	Long:  "Creates a VaultKeeper config file for the vault in the current directory by default. The repository itself is created by the first sync.",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		remoteURL, _ := cmd.Flags().GetString("remote")
		branch, _ := cmd.Flags().GetString("branch")
		strategyRaw, _ := cmd.Flags().GetString("strategy")

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		cfgPath, err := config.InitConfigPath(flagConfig, cwd)
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfgPath); err == nil {
			if !force {
				return fmt.Errorf("config already exists at %q (use --force to overwrite)", cfgPath)
			}
			if err := os.Remove(cfgPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove existing config %q: %w", cfgPath, err)
			}
		}

		cfg := config.DefaultConfig()
		cfg.Vault.RemoteURL = remoteURL
		cfg.Vault.Branch = branch
		if strategyRaw != "" {
			strategy, err := model.ParseStrategy(strategyRaw)
			if err != nil {
				return err
			}
			cfg.Sync.DefaultStrategy = string(strategy)
		}
		vault := flagVault
		if vault == "" && filepath.Base(cfgPath) != config.LocalConfigFilename {
			vault = cwd
		}
		if vault != "" {
			abs, err := filepath.Abs(vault)
			if err != nil {
				return err
			}
			cfg.Vault.Path = abs
		}
		if err := config.Validate(&cfg); err != nil {
			return err
		}

		if err := config.Save(&cfg, cfgPath); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote config to %s\n", cfgPath); err != nil {
			return err
		}
		if remoteURL == "" {
			infof(cmd, "no remote configured; set vault.remote_url or add a git remote before syncing")
		}
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite existing config without prompting")
	initCmd.Flags().String("remote", "", "git remote URL of the vault")
	initCmd.Flags().String("branch", "", "branch to sync (default: detected, main then master)")
	initCmd.Flags().String("strategy", "", "default strategy for diverged histories: smart-merge, keep-local or keep-remote")

	rootCmd.AddCommand(initCmd)
}
