// Package backup snapshots vault files before risky operations, restores
// them on demand, writes human-readable recovery instructions and prunes old
// snapshots by age, count and size.
//
// Snapshots are plain file copies stored beneath <vault>/.vaultkeeper/backups,
// a directory that is always excluded from synchronization.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/skaphos/vaultkeeper/internal/discovery"
	"github.com/skaphos/vaultkeeper/internal/fileutil"
	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/registry"
	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

const (
	// DirName is the snapshot store beneath the vault state directory.
	DirName = "backups"
	// RegistryFile indexes every snapshot in the store.
	RegistryFile = "registry.yaml"
	// ManifestFile describes a single snapshot.
	ManifestFile = "manifest.yaml"

	filesDir       = "files"
	tmpPrefix      = ".tmp-"
	recoveryPrefix = "RECOVERY-"
	idTimeLayout   = "20060102-150405"
)

// Policy bounds the snapshot store. Zero values disable a limit.
type Policy struct {
	// MaxAge removes snapshots older than this.
	MaxAge time.Duration
	// MaxCount keeps at most this many snapshots per reason.
	MaxCount int
	// MaxTotalSize caps the store size in bytes.
	MaxTotalSize int64
}

// DefaultPolicy keeps 10 snapshots per reason, for 30 days, within 500 MB.
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:       30 * 24 * time.Hour,
		MaxCount:     10,
		MaxTotalSize: 500 << 20,
	}
}

// Options configures a Manager.
type Options struct {
	// Exclude holds doublestar patterns for files never captured.
	Exclude []string
	// Policy is applied by PruneDefault.
	Policy Policy
	Logger *zap.Logger
	// Now is overridable in tests.
	Now func() time.Time
}

// Manager owns the snapshot store of one vault.
type Manager struct {
	fs      afero.Fs
	root    string
	dir     string
	exclude []string
	policy  Policy
	log     *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

// New prepares the snapshot store for the vault at root and (re)writes the
// ignore rule that keeps the state directory out of synchronization.
func New(fsys afero.Fs, root string, opts Options) (*Manager, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	m := &Manager{
		fs:      fsys,
		root:    root,
		dir:     filepath.Join(root, discovery.StateDir, DirName),
		exclude: opts.Exclude,
		policy:  opts.Policy,
		log:     opts.Logger.Named("backup"),
		now:     opts.Now,
	}
	if err := fsys.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup store: %w", err)
	}
	changed, err := EnsureIgnored(fsys, root)
	if err != nil {
		return nil, err
	}
	if changed {
		m.log.Info("added state directory to .gitignore", zap.String("vault", root))
	}
	if _, err := EnsureExcluded(fsys, root); err != nil {
		return nil, err
	}
	return m, nil
}

// Dir returns the snapshot store directory.
func (m *Manager) Dir() string { return m.dir }

// Create snapshots files (vault-relative paths) or, when files is nil, every
// vault file outside .git and the state directory. The snapshot becomes
// visible only once completely written.
func (m *Manager) Create(ctx context.Context, reason model.BackupReason, description string, files []string) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.create(ctx, reason, description, files)
	if err != nil {
		return nil, syncerr.BackupFailure("backup "+string(reason), err)
	}
	m.log.Info("snapshot created",
		zap.String("snapshot", snap.ID),
		zap.String("reason", string(reason)),
		zap.Int("files", len(snap.Files)),
		zap.Int64("bytes", snap.SizeBytes))
	return snap, nil
}

func (m *Manager) create(ctx context.Context, reason model.BackupReason, description string, files []string) (*model.Snapshot, error) {
	full := files == nil
	rels, err := m.selectFiles(ctx, files)
	if err != nil {
		return nil, err
	}
	reg, err := m.loadRegistry()
	if err != nil {
		return nil, err
	}

	created := m.now()
	id := m.newID(reg, reason, created)
	tmp := filepath.Join(m.dir, tmpPrefix+id)
	final := filepath.Join(m.dir, id)
	if err := m.fs.RemoveAll(tmp); err != nil {
		return nil, err
	}
	cleanup := func() { _ = m.fs.RemoveAll(tmp) }

	snap := &model.Snapshot{
		ID:          id,
		Reason:      reason,
		Description: description,
		CreatedAt:   created,
		Full:        full,
		StoragePath: final,
	}
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}
		n, err := fileutil.CopyFile(m.fs, m.vaultPath(rel), filepath.Join(tmp, filesDir, filepath.FromSlash(rel)))
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("copy %s: %w", rel, err)
		}
		snap.Files = append(snap.Files, rel)
		snap.SizeBytes += n
	}
	if snap.Files == nil {
		snap.Files = []string{}
	}
	if err := m.fs.MkdirAll(tmp, 0o755); err != nil {
		cleanup()
		return nil, err
	}
	manifest, err := yaml.Marshal(snap)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := fileutil.AtomicWrite(m.fs, filepath.Join(tmp, ManifestFile), manifest, 0o644); err != nil {
		cleanup()
		return nil, err
	}
	if err := m.fs.Rename(tmp, final); err != nil {
		cleanup()
		return nil, fmt.Errorf("publish snapshot: %w", err)
	}

	reg.Upsert(*snap)
	reg.UpdatedAt = created
	if err := registry.Save(m.fs, reg, m.registryPath()); err != nil {
		_ = m.fs.RemoveAll(final)
		return nil, fmt.Errorf("update backup registry: %w", err)
	}
	return snap, nil
}

func (m *Manager) selectFiles(ctx context.Context, files []string) ([]string, error) {
	if files == nil {
		found, err := discovery.Files(ctx, m.fs, m.root, discovery.Options{Exclude: m.exclude})
		if err != nil {
			return nil, fmt.Errorf("list vault files: %w", err)
		}
		return discovery.Paths(found), nil
	}
	seen := make(map[string]struct{}, len(files))
	var rels []string
	for _, f := range files {
		rel, err := m.relPath(f)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		info, err := m.fs.Stat(m.vaultPath(rel))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	return rels, nil
}

// relPath normalizes p to a clean, slash separated path inside the vault.
func (m *Manager) relPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		r, err := filepath.Rel(m.root, p)
		if err != nil {
			return "", err
		}
		p = r
	}
	rel := path.Clean(filepath.ToSlash(p))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("path %q is outside the vault", p)
	}
	first := strings.SplitN(rel, "/", 2)[0]
	if first == ".git" || first == discovery.StateDir {
		return "", fmt.Errorf("path %q is not vault content", p)
	}
	return rel, nil
}

func (m *Manager) newID(reg *registry.Registry, reason model.BackupReason, at time.Time) string {
	base := at.UTC().Format(idTimeLayout) + "-" + string(reason)
	id := base
	for n := 2; ; n++ {
		if reg.Find(id) == nil && !fileutil.Exists(m.fs, filepath.Join(m.dir, id)) {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// Restore copies the snapshot back into the vault. A full pre-restore
// snapshot is taken first and returned, so a restore never destroys the
// state it replaces. For full snapshots, files created after the snapshot
// are removed so the tree matches byte-for-byte.
func (m *Manager) Restore(ctx context.Context, id string) (*model.Snapshot, error) {
	target, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	pre, err := m.Create(ctx, model.ReasonPreRestore, "state before restoring "+id, nil)
	if err != nil {
		return nil, err
	}

	if err := m.restore(ctx, target); err != nil {
		recovery, recErr := m.RecoveryInstructions(id)
		if recErr != nil {
			m.log.Error("write recovery instructions", zap.Error(recErr))
		}
		m.log.Error("restore failed", zap.String("snapshot", id), zap.String("pre_restore", pre.ID), zap.Error(err))
		return pre, syncerr.RestoreFailure("restore", id, recovery, err)
	}
	m.log.Info("snapshot restored", zap.String("snapshot", id), zap.String("pre_restore", pre.ID))
	return pre, nil
}

func (m *Manager) restore(ctx context.Context, snap *model.Snapshot) error {
	// Once files start being overwritten the restore runs to completion.
	if err := ctx.Err(); err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(snap.Files))
	for _, rel := range snap.Files {
		keep[rel] = struct{}{}
		src := filepath.Join(snap.StoragePath, filesDir, filepath.FromSlash(rel))
		if _, err := fileutil.CopyFile(m.fs, src, m.vaultPath(rel)); err != nil {
			return fmt.Errorf("restore %s: %w", rel, err)
		}
	}
	if !snap.Full {
		return nil
	}
	current, err := discovery.Files(context.WithoutCancel(ctx), m.fs, m.root, discovery.Options{Exclude: m.exclude})
	if err != nil {
		return fmt.Errorf("list vault files: %w", err)
	}
	for _, f := range current {
		if _, ok := keep[f.Path]; ok {
			continue
		}
		if err := fileutil.RemoveIfExists(m.fs, m.vaultPath(f.Path)); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the snapshot with the given id.
func (m *Manager) Get(id string) (*model.Snapshot, error) {
	reg, err := m.loadRegistry()
	if err != nil {
		return nil, err
	}
	entry := reg.Find(id)
	if entry == nil {
		return nil, fmt.Errorf("snapshot %q not found", id)
	}
	snap := entry.Snapshot
	return &snap, nil
}

// List returns every snapshot, oldest first. Index entries whose directory
// has vanished are dropped.
func (m *Manager) List() ([]model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, err := m.loadRegistry()
	if err != nil {
		return nil, err
	}
	if err := reg.ValidatePaths(m.fs); err != nil {
		return nil, err
	}
	if n := reg.PruneMissing(); n > 0 {
		m.log.Warn("dropped missing snapshots from registry", zap.Int("count", n))
		if err := registry.Save(m.fs, reg, m.registryPath()); err != nil {
			return nil, err
		}
	}
	return reg.Snapshots(), nil
}

// Latest returns the newest snapshot, or nil when the store is empty.
func (m *Manager) Latest() (*model.Snapshot, error) {
	snaps, err := m.List()
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	latest := snaps[len(snaps)-1]
	return &latest, nil
}

// PruneDefault applies the manager's configured policy.
func (m *Manager) PruneDefault() ([]string, error) {
	return m.Prune(m.policy)
}

// Prune removes snapshots beyond the policy limits and returns their ids.
// The newest snapshot is never removed, whatever the limits say.
func (m *Manager) Prune(policy Policy) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.loadRegistry()
	if err != nil {
		return nil, err
	}
	snaps := reg.Snapshots()
	if len(snaps) <= 1 {
		return nil, nil
	}
	newest := snaps[len(snaps)-1].ID
	now := m.now()
	remove := make(map[string]bool)

	if policy.MaxAge > 0 {
		for _, s := range snaps {
			if s.ID != newest && now.Sub(s.CreatedAt) > policy.MaxAge {
				remove[s.ID] = true
			}
		}
	}
	if policy.MaxCount > 0 {
		perReason := make(map[model.BackupReason]int)
		for i := len(snaps) - 1; i >= 0; i-- {
			s := snaps[i]
			if remove[s.ID] {
				continue
			}
			perReason[s.Reason]++
			if perReason[s.Reason] > policy.MaxCount && s.ID != newest {
				remove[s.ID] = true
			}
		}
	}
	if policy.MaxTotalSize > 0 {
		var total int64
		for _, s := range snaps {
			if !remove[s.ID] {
				total += s.SizeBytes
			}
		}
		for _, s := range snaps {
			if total <= policy.MaxTotalSize {
				break
			}
			if remove[s.ID] || s.ID == newest {
				continue
			}
			remove[s.ID] = true
			total -= s.SizeBytes
		}
	}
	if len(remove) == 0 {
		return nil, nil
	}

	var removed []string
	var errs []error
	for _, s := range snaps {
		if !remove[s.ID] {
			continue
		}
		if err := m.fs.RemoveAll(s.StoragePath); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", s.ID, err))
			continue
		}
		_ = fileutil.RemoveIfExists(m.fs, m.recoveryPath(s.ID))
		reg.Remove(s.ID)
		removed = append(removed, s.ID)
	}
	reg.UpdatedAt = now
	if err := registry.Save(m.fs, reg, m.registryPath()); err != nil {
		errs = append(errs, err)
	}
	if len(removed) > 0 {
		m.log.Info("pruned snapshots", zap.Strings("snapshots", removed))
	}
	return removed, errors.Join(errs...)
}

func (m *Manager) loadRegistry() (*registry.Registry, error) {
	reg, err := registry.LoadOrEmpty(m.fs, m.registryPath())
	if err != nil {
		return nil, fmt.Errorf("load backup registry: %w", err)
	}
	return reg, nil
}

func (m *Manager) registryPath() string {
	return filepath.Join(m.dir, RegistryFile)
}

func (m *Manager) recoveryPath(id string) string {
	return filepath.Join(m.dir, recoveryPrefix+id+".txt")
}

func (m *Manager) vaultPath(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel))
}
