// SPDX-License-Identifier: MIT
package termstyle

import (
	"github.com/liggitt/tabwriter"

	"github.com/skaphos/vaultkeeper/internal/model"
)

const (
	Reset = "\x1b[0m"
	Green = "\x1b[32m"
	Brown = "\x1b[33m"
	Red   = "\x1b[31m"
	Blue  = "\x1b[34m"

	// Semantic aliases used by table/status output.
	Healthy = Green
	Warn    = Brown
	Error   = Red
	Info    = Blue
)

// Colorize wraps a value in ANSI escapes when color output is enabled.
func Colorize(enabled bool, value, color string) string {
	if !enabled || value == "" || color == "" {
		return value
	}
	// Hide ANSI sequences from tabwriter width calculations so columns align.
	esc := string([]byte{tabwriter.Escape})
	return esc + color + esc + value + esc + Reset + esc
}

// Paint wraps a value in ANSI escapes for output that bypasses tabwriter.
func Paint(enabled bool, value, color string) string {
	if !enabled || value == "" || color == "" {
		return value
	}
	return color + value + Reset
}

// StateColor maps an offline state to a display color.
func StateColor(state model.OfflineState) string {
	switch state {
	case model.StateOnlineSynced:
		return Healthy
	case model.StateOnlineDirty, model.StateReconciling:
		return Info
	case model.StateOfflineDirty:
		return Warn
	default:
		return ""
	}
}

// OutcomeColor maps a sync outcome name to a display color.
func OutcomeColor(outcome string) string {
	switch outcome {
	case "failed", "FAILED":
		return Error
	case "offline", "pending_resolution", "OFFLINE", "PENDING":
		return Warn
	case "":
		return ""
	default:
		return Healthy
	}
}
