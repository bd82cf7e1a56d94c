// SPDX-License-Identifier: MIT
// Package registry handles persistence and validation of the per-vault
// backup index.
package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	"go.yaml.in/yaml/v3"

	"github.com/skaphos/vaultkeeper/internal/fileutil"
	"github.com/skaphos/vaultkeeper/internal/model"
)

// EntryStatus represents whether a snapshot directory is still on disk.
type EntryStatus string

const (
	StatusPresent EntryStatus = "present"
	StatusMissing EntryStatus = "missing"
)

// Entry is a single snapshot in the index.
type Entry struct {
	Snapshot model.Snapshot `yaml:",inline"`
	Status   EntryStatus    `yaml:"status"`
}

// Registry is the per-vault index of backup snapshots.
type Registry struct {
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
	Entries   []Entry   `yaml:"snapshots"`
}

// Load reads a registry file from the given path.
func Load(fsys afero.Fs, path string) (*Registry, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// LoadOrEmpty reads the registry, returning an empty one when the file does
// not exist yet.
func LoadOrEmpty(fsys afero.Fs, path string) (*Registry, error) {
	reg, err := Load(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, err
	}
	return reg, nil
}

// Save writes the registry to the given path atomically.
func Save(fsys afero.Fs, reg *Registry, path string) error {
	if reg == nil {
		return errors.New("registry is nil")
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}
	return fileutil.AtomicWrite(fsys, path, data, 0o644)
}

// Upsert adds or replaces a snapshot by id and keeps entries ordered oldest first.
func (r *Registry) Upsert(snap model.Snapshot) {
	entry := Entry{Snapshot: snap, Status: StatusPresent}
	for i := range r.Entries {
		if r.Entries[i].Snapshot.ID == snap.ID {
			r.Entries[i] = entry
			r.sort()
			return
		}
	}
	r.Entries = append(r.Entries, entry)
	r.sort()
}

// Remove drops the snapshot with the given id. It reports whether an entry
// was removed.
func (r *Registry) Remove(id string) bool {
	for i := range r.Entries {
		if r.Entries[i].Snapshot.ID == id {
			r.Entries = append(r.Entries[:i], r.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// ValidatePaths checks all entries against the filesystem and marks
// snapshots whose storage directory vanished as missing.
func (r *Registry) ValidatePaths(fsys afero.Fs) error {
	for i := range r.Entries {
		_, err := fsys.Stat(r.Entries[i].Snapshot.StoragePath)
		if err != nil {
			if os.IsNotExist(err) {
				r.Entries[i].Status = StatusMissing
				continue
			}
			return err
		}
		r.Entries[i].Status = StatusPresent
	}
	return nil
}

// PruneMissing removes entries marked as missing and returns how many were dropped.
func (r *Registry) PruneMissing() int {
	var kept []Entry
	pruned := 0
	for _, entry := range r.Entries {
		if entry.Status == StatusMissing {
			pruned++
			continue
		}
		kept = append(kept, entry)
	}
	r.Entries = kept
	return pruned
}

// Find returns the entry matching the given snapshot id, or nil.
func (r *Registry) Find(id string) *Entry {
	for i := range r.Entries {
		if r.Entries[i].Snapshot.ID == id {
			return &r.Entries[i]
		}
	}
	return nil
}

// Latest returns the most recently created snapshot, or nil.
func (r *Registry) Latest() *Entry {
	if len(r.Entries) == 0 {
		return nil
	}
	return &r.Entries[len(r.Entries)-1]
}

// Snapshots returns the snapshots ordered oldest first.
func (r *Registry) Snapshots() []model.Snapshot {
	out := make([]model.Snapshot, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.Snapshot)
	}
	return out
}

func (r *Registry) sort() {
	sort.SliceStable(r.Entries, func(i, j int) bool {
		a, b := r.Entries[i].Snapshot, r.Entries[j].Snapshot
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
