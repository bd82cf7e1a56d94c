// SPDX-License-Identifier: MIT
package vaultkeeper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skaphos/vaultkeeper/internal/backup"
	"github.com/skaphos/vaultkeeper/internal/classify"
	"github.com/skaphos/vaultkeeper/internal/config"
	"github.com/skaphos/vaultkeeper/internal/discovery"
	"github.com/skaphos/vaultkeeper/internal/engine"
	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/history"
	"github.com/skaphos/vaultkeeper/internal/logging"
	"github.com/skaphos/vaultkeeper/internal/merge"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/offline"
	"github.com/skaphos/vaultkeeper/internal/resolve"
)

// app holds the collaborators of one command invocation.
type app struct {
	cfgPath string
	cfg     *config.Config
	vault   string
	fs      afero.Fs
	log     *zap.Logger
	runner  gitx.Runner
	backups *backup.Manager
	history *history.Store
	offline *offline.Manager
	engine  *engine.Engine

	cleanup []func()
}

// prompts selects the UI collaborators handed to the engine.
type prompts struct {
	chooser  model.StrategyChooser
	prompter model.FilePrompter
}

// newApp resolves config and vault, then wires every component.
func newApp(cmd *cobra.Command, p prompts) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfgPath, err := config.ResolveConfigPath(flagConfig, cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if flagVault == "" {
			return nil, fmt.Errorf("config not found at %q (run vaultkeeper init first)", cfgPath)
		}
		if cfg, err = config.Load(""); err != nil {
			return nil, err
		}
	}
	debugf(cmd, "using config %s", cfgPath)

	vault := flagVault
	if vault == "" {
		vault = config.EffectiveVault(cfgPath, cfg)
	}
	if vault == "" {
		return nil, fmt.Errorf("no vault configured; set vault.path in %q or pass --vault", cfgPath)
	}
	if vault, err = filepath.Abs(vault); err != nil {
		return nil, err
	}
	if info, err := os.Stat(vault); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("vault %q is not a directory", vault)
	}

	log, closeLog, err := logging.New(logging.Options{
		Verbosity:   flagVerbose,
		Quiet:       flagQuiet,
		File:        cfg.Log.File,
		DisableFile: cfg.Log.DisableFile,
		Stderr:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	a := &app{
		cfgPath: cfgPath,
		cfg:     cfg,
		vault:   vault,
		fs:      afero.NewOsFs(),
		log:     log.With(zap.String("vault", vault)),
		runner:  &gitx.GitRunner{},
		cleanup: []func(){closeLog},
	}
	if err := a.wire(p); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(p prompts) error {
	backups, err := backup.New(a.fs, a.vault, backup.Options{
		Exclude: a.cfg.Backup.Exclude,
		Policy:  a.cfg.BackupPolicy(),
		Logger:  a.log,
	})
	if err != nil {
		return err
	}
	a.backups = backups

	hist, err := history.Open(filepath.Join(a.vault, discovery.StateDir, history.FileName))
	if err != nil {
		a.log.Warn("history disabled", zap.Error(err))
	} else {
		a.history = hist
		a.cleanup = append(a.cleanup, func() { _ = hist.Close() })
	}

	a.offline = offline.NewManager(offline.NewSessionStore(a.fs, a.vault), offline.Options{
		Probe:    a.probe(),
		Recorder: a.recorder(),
		Backups:  backups,
		Logger:   a.log,
	})

	if _, err := a.cfg.DefaultStrategy(); err != nil {
		return err
	}

	deps := engine.Deps{
		Vault:   a.vault,
		Config:  a.cfg,
		Runner:  a.runner,
		Fs:      a.fs,
		Logger:  a.log,
		Backups: backups,
		Classifier: classify.New(a.runner, classify.Options{
			Remote:         a.cfg.Vault.Remote,
			Branch:         a.cfg.Vault.Branch,
			Exclude:        a.cfg.Backup.Exclude,
			NetworkTimeout: a.cfg.NetworkTimeout(),
			Fs:             a.fs,
			Logger:         a.log,
		}),
		Merger: merge.New(a.runner, backups, merge.Options{Logger: a.log}),
		Resolver: resolve.New(a.runner, backups, p.prompter, resolve.Options{
			Fs:     a.fs,
			Editor: a.cfg.Editor,
			Logger: a.log,
		}),
		Offline: a.offline,
		Chooser: p.chooser,
	}
	if a.history != nil {
		deps.History = a.history
	}
	a.engine = engine.New(deps)
	return nil
}

// probe returns nil for remotes without a network host, such as local
// paths, so they always count as reachable.
func (a *app) probe() func(ctx context.Context) error {
	if a.cfg.Sync.ProbeAddress == "" && gitx.ProbeAddress(a.cfg.Vault.RemoteURL) == "" && a.cfg.Vault.RemoteURL != "" {
		return nil
	}
	prober := &offline.Prober{
		Address: offline.ProbeAddress(a.cfg.Vault.RemoteURL, a.cfg.Sync.ProbeAddress),
		Timeout: offline.DefaultProbeTimeout,
	}
	return prober.Probe
}

func (a *app) recorder() offline.Recorder {
	if a.history == nil {
		return nil
	}
	return a.history
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// saveConfig persists config changes made during a run.
func (a *app) saveConfig(cmd *cobra.Command) error {
	if err := config.Save(a.cfg, a.cfgPath); err != nil {
		return err
	}
	infof(cmd, "updated %s", a.cfgPath)
	return nil
}
