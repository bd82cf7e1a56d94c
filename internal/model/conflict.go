package model

import (
	"context"
	"fmt"
	"strings"
)

// Strategy is a Stage-1 high-level merge policy.
type Strategy string

const (
	StrategySmartMerge Strategy = "smart-merge"
	StrategyKeepLocal  Strategy = "keep-local"
	StrategyKeepRemote Strategy = "keep-remote"
)

// Strategies lists every strategy in presentation order.
var Strategies = []Strategy{StrategySmartMerge, StrategyKeepLocal, StrategyKeepRemote}

// Describe returns a short human description of the strategy.
func (s Strategy) Describe() string {
	switch s {
	case StrategySmartMerge:
		return "merge both histories, resolving overlapping files one by one"
	case StrategyKeepLocal:
		return "keep local files, record remote history without adopting its changes"
	case StrategyKeepRemote:
		return "back up local files and adopt the remote tree"
	default:
		return ""
	}
}

// ParseStrategy converts user input into a Strategy.
func ParseStrategy(raw string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "smart-merge", "smart", "merge":
		return StrategySmartMerge, nil
	case "keep-local", "local", "ours":
		return StrategyKeepLocal, nil
	case "keep-remote", "remote", "theirs":
		return StrategyKeepRemote, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (expected smart-merge, keep-local or keep-remote)", raw)
	}
}

// ResolutionKind enumerates per-file resolutions.
type ResolutionKind string

const (
	ResolveKeepLocal    ResolutionKind = "keep-local"
	ResolveKeepRemote   ResolutionKind = "keep-remote"
	ResolveKeepBoth     ResolutionKind = "keep-both"
	ResolveManualEdit   ResolutionKind = "manual-edit"
	ResolveSkipDeferred ResolutionKind = "skip-deferred"
)

// ResolutionKinds lists every resolution in presentation order.
var ResolutionKinds = []ResolutionKind{ResolveKeepLocal, ResolveKeepRemote, ResolveKeepBoth, ResolveManualEdit, ResolveSkipDeferred}

// ParseResolutionKind converts user input into a ResolutionKind.
func ParseResolutionKind(raw string) (ResolutionKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "keep-local", "local", "l":
		return ResolveKeepLocal, nil
	case "keep-remote", "remote", "r":
		return ResolveKeepRemote, nil
	case "keep-both", "both", "b":
		return ResolveKeepBoth, nil
	case "manual-edit", "manual", "edit", "e":
		return ResolveManualEdit, nil
	case "skip-deferred", "skip", "defer", "s":
		return ResolveSkipDeferred, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", raw)
	}
}

// FileConflict is a path the merge reported as conflicted. It lives for a
// single resolution pass.
type FileConflict struct {
	Path string
	// Local is the "ours" blob; nil when LocalMissing.
	Local []byte
	// Remote is the "theirs" blob; nil when RemoteMissing.
	Remote []byte
	// Base is nil when there is no common ancestor version.
	Base          []byte
	LocalMissing  bool
	RemoteMissing bool
	Resolution    *FileResolution
}

// FileResolution is the decision taken for one conflicted path.
type FileResolution struct {
	Path string         `json:"path" yaml:"path"`
	Kind ResolutionKind `json:"kind" yaml:"kind"`
	// RenamedPath receives the remote version for keep-both.
	RenamedPath string `json:"renamed_path,omitempty" yaml:"renamed_path,omitempty"`
	// Content is the final content for manual-edit.
	Content []byte `json:"-" yaml:"-"`
}

// StrategyRequest asks the UI collaborator to pick a Stage-1 strategy.
type StrategyRequest struct {
	Scenario Scenario
	State    *RepositoryState
	Options  []Strategy
}

// FileRequest asks the UI collaborator to resolve one conflicted path.
type FileRequest struct {
	Path          string
	LocalPreview  string
	RemotePreview string
	BasePreview   string
	Diff          string
	Options       []ResolutionKind
	// Rejected is set when a previous manual edit still contained conflict markers.
	Rejected string
}

// FileAnswer is the UI collaborator's answer to a FileRequest.
type FileAnswer struct {
	Kind ResolutionKind
	// Content, when set with ResolveManualEdit, is used instead of launching an editor.
	Content []byte
}

// StrategyChooser is implemented by the presentation layer.
type StrategyChooser interface {
	ChooseStrategy(ctx context.Context, req StrategyRequest) (Strategy, error)
}

// FilePrompter is implemented by the presentation layer.
type FilePrompter interface {
	ResolveFile(ctx context.Context, req FileRequest) (FileAnswer, error)
}
