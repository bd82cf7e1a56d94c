package model

import "time"

// BackupReason records why a snapshot was taken.
type BackupReason string

const (
	ReasonConflictResolution BackupReason = "conflict_resolution"
	ReasonSetupSafety        BackupReason = "setup_safety"
	ReasonSyncOperation      BackupReason = "sync_operation"
	ReasonUserRequested      BackupReason = "user_requested"
	ReasonPreRestore         BackupReason = "pre_restore"
	ReasonAutoCleanup        BackupReason = "auto_cleanup"
)

// Snapshot is a file-level backup of vault content.
type Snapshot struct {
	// ID encodes the creation timestamp and reason, for example "20261017-101500-sync_operation".
	ID          string       `json:"id" yaml:"id"`
	Reason      BackupReason `json:"reason" yaml:"reason"`
	Description string       `json:"description" yaml:"description"`
	CreatedAt   time.Time    `json:"created_at" yaml:"created_at"`
	// Files are vault-relative, slash separated paths captured by the snapshot.
	Files []string `json:"files" yaml:"files"`
	// Full is true when the snapshot captured every meaningful file, so a
	// restore also removes files created afterwards.
	Full      bool  `json:"full" yaml:"full"`
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes"`
	// StoragePath is the snapshot directory.
	StoragePath string `json:"storage_path" yaml:"storage_path"`
}
