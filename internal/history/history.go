// Package history keeps a queryable log of sync attempts and offline state
// transitions in a SQLite database under the vault's state directory.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/skaphos/vaultkeeper/internal/model"
)

// FileName is the database file inside the vault state directory.
const FileName = "history.db"

// Status is the coarse result of a sync attempt.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPending Status = "PENDING"
	StatusOffline Status = "OFFLINE"
	StatusFailed  Status = "FAILED"
)

// SyncRecord is one sync attempt.
type SyncRecord struct {
	gorm.Model
	Status     Status `gorm:"not null;index"`
	Outcome    string `gorm:"not null"`
	Scenario   string
	Strategy   string
	Commit     string
	SnapshotID string
	// Pending is the number of files left for a later resolution pass.
	Pending  int
	Message  string
	ErrMsg   string
	SyncedAt time.Time `gorm:"not null;index"`
}

// TransitionRecord is one offline state machine step.
type TransitionRecord struct {
	gorm.Model
	SessionID string `gorm:"not null;index"`
	FromState string `gorm:"not null"`
	ToState   string `gorm:"not null"`
	Event     string `gorm:"not null"`
	Mode      string
	Commit    string
	At        time.Time `gorm:"not null;index"`
}

// Stats aggregates sync attempts.
type Stats struct {
	Total   int64
	Success int64
	Pending int64
	Offline int64
	Failed  int64
}

// Store persists history records.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.AutoMigrate(&SyncRecord{}, &TransitionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordSync saves a sync attempt. A non-nil err marks it failed.
func (s *Store) RecordSync(rec SyncRecord, err error) error {
	if err != nil {
		rec.Status = StatusFailed
		rec.ErrMsg = err.Error()
	}
	if rec.Status == "" {
		rec.Status = StatusSuccess
	}
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = time.Now()
	}
	return s.db.Create(&rec).Error
}

// RecordTransition saves a state machine step.
func (s *Store) RecordTransition(sessionID string, t model.Transition) error {
	rec := TransitionRecord{
		SessionID: sessionID,
		FromState: string(t.From),
		ToState:   string(t.To),
		Event:     t.Event,
		Mode:      string(t.Mode),
		Commit:    t.Commit,
		At:        t.At,
	}
	return s.db.Create(&rec).Error
}

// Stats counts sync attempts by status.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	if err := s.db.Model(&SyncRecord{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	counts := map[Status]*int64{
		StatusSuccess: &stats.Success,
		StatusPending: &stats.Pending,
		StatusOffline: &stats.Offline,
		StatusFailed:  &stats.Failed,
	}
	for status, dst := range counts {
		if err := s.db.Model(&SyncRecord{}).Where("status = ?", status).Count(dst).Error; err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// RecentSyncs returns up to limit sync attempts, newest first.
func (s *Store) RecentSyncs(limit int) ([]SyncRecord, error) {
	var recs []SyncRecord
	result := s.db.
		Order("synced_at desc").
		Order("id desc").
		Limit(limit).
		Find(&recs)
	return recs, result.Error
}

// Failed returns failed sync attempts, newest first.
func (s *Store) Failed() ([]SyncRecord, error) {
	var recs []SyncRecord
	result := s.db.
		Where("status = ?", StatusFailed).
		Order("synced_at desc").
		Find(&recs)
	return recs, result.Error
}

// RecentTransitions returns up to limit transitions, newest first.
func (s *Store) RecentTransitions(limit int) ([]TransitionRecord, error) {
	var recs []TransitionRecord
	result := s.db.
		Order("at desc").
		Order("id desc").
		Limit(limit).
		Find(&recs)
	return recs, result.Error
}
