package offline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.yaml.in/yaml/v3"

	"github.com/skaphos/vaultkeeper/internal/discovery"
	"github.com/skaphos/vaultkeeper/internal/fileutil"
	"github.com/skaphos/vaultkeeper/internal/model"
)

// SessionFile is the session document inside the vault state directory.
const SessionFile = "session.yaml"

// MaxTransitions caps the transition history kept in the session file.
const MaxTransitions = 50

// SessionStore reads and writes the persisted SyncSession.
type SessionStore struct {
	fs   afero.Fs
	path string
}

// NewSessionStore returns a store for the vault rooted at vault.
func NewSessionStore(fsys afero.Fs, vault string) *SessionStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &SessionStore{fs: fsys, path: filepath.Join(vault, discovery.StateDir, SessionFile)}
}

// Path returns the session file location.
func (s *SessionStore) Path() string { return s.path }

// Load returns the persisted session. found is false when no session has
// been written yet.
func (s *SessionStore) Load() (*model.SyncSession, bool, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read session: %w", err)
	}
	var sess model.SyncSession
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return nil, false, fmt.Errorf("parse session %s: %w", s.path, err)
	}
	return &sess, true, nil
}

// Save writes the session atomically, trimming history to MaxTransitions.
func (s *SessionStore) Save(sess *model.SyncSession) error {
	if n := len(sess.Transitions); n > MaxTransitions {
		sess.Transitions = append([]model.Transition(nil), sess.Transitions[n-MaxTransitions:]...)
	}
	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return fileutil.AtomicWrite(s.fs, s.path, data, 0o644)
}
