// SPDX-License-Identifier: MIT
package vaultkeeper

import "github.com/spf13/cobra"

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Finish a merge left open by deferred files",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolveRaw, _ := cmd.Flags().GetString("resolve")
		p, err := promptsFor(cmd, resolveRaw)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, p)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.engine.ResolvePending(cmd.Context())
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

func init() {
	resolveCmd.Flags().String("resolve", "", "answer every conflicted file: keep-local, keep-remote, keep-both or skip-deferred")

	rootCmd.AddCommand(resolveCmd)
}
