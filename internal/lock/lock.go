// SPDX-License-Identifier: MIT

// Package lock serializes vault operations across processes with an
// advisory file lock in the vault state directory.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/skaphos/vaultkeeper/internal/discovery"
	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

// FileName is the lock file inside the vault state directory.
const FileName = "sync.lock"

// Lock is a held vault lock.
type Lock struct {
	fl *flock.Flock
}

// Path returns the lock file location for a vault.
func Path(vault string) string {
	return filepath.Join(vault, discovery.StateDir, FileName)
}

// Acquire takes the vault lock without blocking. A lock held by another
// process yields an error matching syncerr.ErrRepositoryBusy.
func Acquire(vault string) (*Lock, error) {
	p := Path(vault)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	fl := flock.New(p)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire vault lock: %w", err)
	}
	if !locked {
		return nil, syncerr.Busy(p)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Releasing a nil lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
