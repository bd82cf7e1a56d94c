package vaultkeeper

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/skaphos/vaultkeeper/internal/cliio"
	"github.com/skaphos/vaultkeeper/internal/model"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Show which sync scenario applies without changing anything",
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

		state, err := a.engine.Classify(cmd.Context())
		if err != nil {
			return err
		}
		if mode != outputTable {
			return writeStructured(cmd.OutOrStdout(), mode, state)
		}
		noHeaders, _ := cmd.Flags().GetBool("no-headers")
		return writeClassifyTable(cmd, state, noHeaders)
	},
}

func writeClassifyTable(cmd *cobra.Command, s *model.RepositoryState, noHeaders bool) error {
	rows := [][]string{
		{"scenario", string(s.Scenario)},
		{"branch", s.Branch},
		{"remote branch", s.RemoteBranch},
		{"local commits", strconv.FormatBool(s.LocalHasCommits)},
		{"remote commits", strconv.FormatBool(s.RemoteHasCommits)},
		{"local files", strconv.Itoa(len(s.LocalFiles))},
		{"remote files", strconv.Itoa(len(s.RemoteFiles))},
		{"ahead", strconv.Itoa(s.Ahead)},
		{"behind", strconv.Itoa(s.Behind)},
		{"diverged", strconv.FormatBool(s.Diverged)},
		{"common ancestor", strconv.FormatBool(s.CommonAncestor)},
	}
	return cliio.WriteTable(cmd.OutOrStdout(), false, noHeaders, []string{"FIELD", "VALUE"}, rows)
}

func init() {
	addFormatFlag(classifyCmd)
	classifyCmd.Flags().Bool("no-headers", false, "when using table format, do not print headers")

	rootCmd.AddCommand(classifyCmd)
}
