package model

import "time"

// OfflineState is a state of the offline sync state machine.
type OfflineState string

const (
	StateOnlineSynced OfflineState = "online-synced"
	StateOnlineDirty  OfflineState = "online-dirty"
	StateOfflineDirty OfflineState = "offline-dirty"
	StateReconciling  OfflineState = "reconciling"
)

// NetworkMode is the last observed connectivity.
type NetworkMode string

const (
	ModeOnline  NetworkMode = "online"
	ModeOffline NetworkMode = "offline"
)

// SyncMode describes how connectivity changed across a transition.
type SyncMode string

const (
	SyncOnlineToOnline   SyncMode = "online-to-online"
	SyncOfflineToOffline SyncMode = "offline-to-offline"
	SyncOfflineToOnline  SyncMode = "offline-to-online"
	SyncOnlineToOffline  SyncMode = "online-to-offline"
)

// SyncModeFor derives the SyncMode for a connectivity change.
func SyncModeFor(from, to NetworkMode) SyncMode {
	switch {
	case from == ModeOffline && to == ModeOffline:
		return SyncOfflineToOffline
	case from == ModeOffline:
		return SyncOfflineToOnline
	case to == ModeOffline:
		return SyncOnlineToOffline
	default:
		return SyncOnlineToOnline
	}
}

// Transition records a single state machine step.
type Transition struct {
	From   OfflineState `json:"from" yaml:"from"`
	To     OfflineState `json:"to" yaml:"to"`
	Event  string       `json:"event" yaml:"event"`
	Mode   SyncMode     `json:"mode" yaml:"mode"`
	At     time.Time    `json:"at" yaml:"at"`
	Commit string       `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// SyncSession is the persisted record of synchronization and connectivity state.
type SyncSession struct {
	// ID is a random session identifier.
	ID        string    `json:"session_id" yaml:"session_id"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	// LastKnownSyncCommit is empty until the first successful sync.
	LastKnownSyncCommit string       `json:"last_known_sync_commit,omitempty" yaml:"last_known_sync_commit,omitempty"`
	PendingLocalChanges bool         `json:"pending_local_changes" yaml:"pending_local_changes"`
	Mode                NetworkMode  `json:"mode" yaml:"mode"`
	State               OfflineState `json:"state" yaml:"state"`
	// SnapshotID is the backup taken when the session went offline with pending changes.
	SnapshotID  string       `json:"snapshot_id,omitempty" yaml:"snapshot_id,omitempty"`
	Transitions []Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}
