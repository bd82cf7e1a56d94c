// Package vaultkeeper contains the Cobra command tree for the VaultKeeper CLI.
package vaultkeeper

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

const (
	exitOK      = 0
	exitWarning = 1
	exitError   = 2
	exitFatal   = 3
)

var (
	// Global flags
	flagVerbose int
	flagQuiet   bool
	flagConfig  string
	flagVault   string
	flagNoColor bool
	// exitCode tracks the highest severity observed during a command run.
	exitCode int
	// isTerminalFD is overridable in tests.
	isTerminalFD = term.IsTerminal
	// exitFunc is overridable in tests.
	exitFunc = os.Exit
)

var rootCmd = &cobra.Command{
	Use:   "vaultkeeper",
	Short: "Keep a note vault in sync with a git remote",
	Long:  "VaultKeeper commits, merges and pushes a note vault against a git remote, keeps working while offline, and snapshots the vault before every risky step so nothing is lost.",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// `NO_COLOR` is a standard opt-out and should behave like --no-color.
		if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
			flagNoColor = true
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase output verbosity (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "override config file path")
	rootCmd.PersistentFlags().StringVar(&flagVault, "vault", "", "vault directory (overrides vault.path)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() {
	exitFunc(ExecuteWithExitCode())
}

// ExecuteWithExitCode runs the root command and returns a shell-friendly exit code.
func ExecuteWithExitCode() int {
	exitCode = exitOK
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if id := syncerr.SnapshotID(err); id != "" {
			fmt.Fprintf(os.Stderr, "your vault was backed up first; to undo, run: vaultkeeper backup restore %s\n", id)
		}
		if p := syncerr.RecoveryPath(err); p != "" {
			fmt.Fprintf(os.Stderr, "recovery instructions: %s\n", p)
		}
		return exitCodeFor(err)
	}
	return exitCode
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case syncerr.IsRecoverable(err), errors.Is(err, syncerr.ErrRepositoryBusy):
		return exitWarning
	case syncerr.IsFatal(err):
		return exitFatal
	default:
		return exitError
	}
}

func raiseExitCode(code int) {
	// Keep the highest severity: 0 success, 1 warning, 2 error, 3 fatal.
	if code > exitCode {
		exitCode = code
	}
}

func infof(cmd *cobra.Command, format string, args ...any) {
	if flagQuiet {
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}

func debugf(cmd *cobra.Command, format string, args ...any) {
	if flagQuiet || flagVerbose <= 0 {
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}

func colorEnabled(cmd *cobra.Command) bool {
	if flagNoColor {
		return false
	}
	file, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return isTerminalFD(int(file.Fd()))
}

// interactive reports whether prompts can be answered on stdin.
func interactive(cmd *cobra.Command) bool {
	file, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return false
	}
	return isTerminalFD(int(file.Fd()))
}
