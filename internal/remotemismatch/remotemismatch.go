// SPDX-License-Identifier: MIT

// Package remotemismatch compares the vault's git remote with the configured
// remote URL and, depending on the reconcile mode, repairs one side.
package remotemismatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/skaphos/vaultkeeper/internal/gitx"
)

// ErrNoRemote is returned when neither git nor the config names a remote URL.
var ErrNoRemote = errors.New("no remote configured")

// ErrMismatch is returned in ReconcileNone mode when git and the config
// disagree.
var ErrMismatch = errors.New("remote URL mismatch")

// ReconcileMode controls how remote mismatch reconciliation is applied.
type ReconcileMode string

const (
	ReconcileNone   ReconcileMode = "none"
	ReconcileConfig ReconcileMode = "config"
	ReconcileGit    ReconcileMode = "git"
)

// Action is what a Plan will do.
type Action string

const (
	ActionNone Action = ""
	// ActionAdd configures the missing git remote from the config.
	ActionAdd Action = "add git remote"
	// ActionSetGit points the git remote at the configured URL.
	ActionSetGit Action = "set git remote URL to configured remote_url"
	// ActionSetConfig adopts the live git remote URL into the config.
	ActionSetConfig Action = "set configured remote_url to live git remote"
	// ActionReport leaves both sides untouched and fails.
	ActionReport Action = "report mismatch"
)

// Plan describes the reconcile action for one vault.
type Plan struct {
	Path          string
	Remote        string
	GitURL        string
	ConfiguredURL string
	Action        Action
}

// ParseReconcileMode validates and parses a reconcile mode flag value.
func ParseReconcileMode(raw string) (ReconcileMode, error) {
	mode := ReconcileMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case "", ReconcileNone:
		return ReconcileNone, nil
	case ReconcileConfig, ReconcileGit:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported --reconcile-remote-mismatch value %q (expected none, config, or git)", raw)
	}
}

// BuildPlan inspects the vault's remote. URLs naming the same repository in
// different spellings (ssh vs https) are not a mismatch.
func BuildPlan(ctx context.Context, runner gitx.Runner, dir, remote, configuredURL string, mode ReconcileMode) (Plan, error) {
	plan := Plan{
		Path:          dir,
		Remote:        remote,
		GitURL:        gitx.RemoteURL(ctx, runner, dir, remote),
		ConfiguredURL: strings.TrimSpace(configuredURL),
	}
	switch {
	case plan.GitURL == "" && plan.ConfiguredURL == "":
		return plan, fmt.Errorf("%w: set vault.remote_url or run 'vaultkeeper init --remote <url>'", ErrNoRemote)
	case plan.GitURL == "":
		plan.Action = ActionAdd
	case plan.ConfiguredURL == "" || gitx.SameRemote(plan.GitURL, plan.ConfiguredURL):
		plan.Action = ActionNone
	default:
		switch mode {
		case ReconcileGit:
			plan.Action = ActionSetGit
		case ReconcileConfig:
			plan.Action = ActionSetConfig
		default:
			plan.Action = ActionReport
		}
	}
	return plan, nil
}

// ApplyPlan performs the git side of plan. It returns the URL the vault now
// syncs with; for ActionSetConfig the caller persists it into the config.
func ApplyPlan(ctx context.Context, runner gitx.Runner, plan Plan) (string, error) {
	switch plan.Action {
	case ActionAdd:
		if err := gitx.AddRemote(ctx, runner, plan.Path, plan.Remote, plan.ConfiguredURL); err != nil {
			return "", fmt.Errorf("git remote add %q %q (%q): %w", plan.Remote, plan.ConfiguredURL, plan.Path, err)
		}
		return plan.ConfiguredURL, nil
	case ActionSetGit:
		if err := gitx.SetRemoteURL(ctx, runner, plan.Path, plan.Remote, plan.ConfiguredURL); err != nil {
			return "", fmt.Errorf("git remote set-url %q %q (%q): %w", plan.Remote, plan.ConfiguredURL, plan.Path, err)
		}
		return plan.ConfiguredURL, nil
	case ActionReport:
		return "", fmt.Errorf("%w: git remote %s is %s but config has %s (use --reconcile-remote-mismatch=git or =config)",
			ErrMismatch, plan.Remote, plan.GitURL, plan.ConfiguredURL)
	default:
		return plan.GitURL, nil
	}
}
