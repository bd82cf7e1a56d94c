// Package fileutil holds small filesystem helpers shared by the backup,
// session and resolution code. All helpers operate on an afero.Fs so they can
// be exercised against an in-memory filesystem.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// AtomicWrite writes data to dst through a sibling temp file and a rename,
// so readers never observe a partially written file.
func AtomicWrite(fsys afero.Fs, dst string, data []byte, perm os.FileMode) error {
	if err := fsys.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}

	tmp := dst + ".vaultkeeper.tmp"
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return fmt.Errorf("failed to write: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fsys.Rename(tmp, dst); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("failed to rename: %w", err)
	}

	return nil
}

// CopyFile copies src to dst atomically, preserving the source permissions.
// It returns the number of bytes copied.
func CopyFile(fsys afero.Fs, src, dst string) (int64, error) {
	in, err := fsys.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return 0, err
	}
	if err := AtomicWrite(fsys, dst, data, info.Mode().Perm()); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(fsys afero.Fs, path string) error {
	if err := fsys.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// Exists reports whether path exists.
func Exists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}
