// SPDX-License-Identifier: MIT
package vaultkeeper

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skaphos/vaultkeeper/internal/cliio"
	"github.com/skaphos/vaultkeeper/internal/engine"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/offline"
	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync on every local change and on a fixed interval",
	Long:  "Watches the vault for edits and syncs after they settle, plus every sync.watch_interval_seconds to pick up remote changes. Diverged histories are smart-merged; conflicts are deferred for 'vaultkeeper resolve' unless --resolve answers them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolveRaw, _ := cmd.Flags().GetString("resolve")
		var kind model.ResolutionKind
		if resolveRaw != "" {
			k, err := model.ParseResolutionKind(resolveRaw)
			if err != nil {
				return err
			}
			kind = k
		}
		fixed := cliio.Fixed{Strategy: model.StrategySmartMerge, Resolution: kind}
		a, err := newApp(cmd, prompts{chooser: fixed, prompter: fixed})
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, err := offline.NewWatcher(a.vault, a.cfg.Debounce(), a.log)
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()

		var tick <-chan time.Time
		if interval := a.cfg.WatchInterval(); interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		infof(cmd, "watching %s (Ctrl-C to stop)", a.vault)
		runWatchSync(ctx, cmd, a.engine, a.log)
		for {
			select {
			case <-ctx.Done():
				infof(cmd, "stopped")
				return nil
			case <-w.Changes():
				debugf(cmd, "change detected")
				if err := a.offline.LocalMutation(ctx); err != nil {
					debugf(cmd, "mark session dirty: %v", err)
				}
				runWatchSync(ctx, cmd, a.engine, a.log)
			case <-tick:
				runWatchSync(ctx, cmd, a.engine, a.log)
			}
		}
	},
}

// runWatchSync performs one sync and reports it. Failures are logged so the
// loop keeps running.
func runWatchSync(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, log *zap.Logger) {
	res, err := eng.Sync(ctx, engine.SyncOptions{})
	switch {
	case err == nil:
		if res.Outcome != engine.OutcomeUpToDate {
			writeSyncResult(cmd, res)
		}
	case errors.Is(err, context.Canceled):
	case errors.Is(err, syncerr.ErrRepositoryBusy):
		debugf(cmd, "another sync is running; skipping")
	default:
		log.Error("sync failed", zap.Error(err))
		if id := syncerr.SnapshotID(err); id != "" {
			infof(cmd, "sync failed; to undo, run: vaultkeeper backup restore %s", id)
		}
	}
}

func init() {
	watchCmd.Flags().String("resolve", "", "answer every conflicted file: keep-local, keep-remote, keep-both or skip-deferred")

	rootCmd.AddCommand(watchCmd)
}
