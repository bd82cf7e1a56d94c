// Package discovery walks a vault directory to enumerate the files that
// synchronization and backups care about.
package discovery

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// StateDir is the vault-local directory holding backups, session state, the
// lock file and history. It is never synchronized.
const StateDir = ".vaultkeeper"

// PlaceholderFiles do not count as vault content when deciding whether a
// side is empty.
var PlaceholderFiles = []string{"README.md", ".gitignore"}

var tempSuffixes = []string{".tmp", ".temp", ".swp", ".swo", ".bak", ".lock", ".vaultkeeper.tmp"}

// File is a single vault file.
type File struct {
	// Path is vault-relative and slash separated.
	Path string
	Size int64
}

// Options configures a vault walk.
type Options struct {
	// Exclude holds doublestar patterns matched against vault-relative paths.
	Exclude []string
	// Meaningful restricts results to note content: hidden files and
	// directories, temp files and placeholder files are skipped.
	Meaningful bool
}

// Files walks root and returns matching files sorted by path. The .git
// directory and StateDir are always skipped, as are symlinks.
func Files(ctx context.Context, fsys afero.Fs, root string, opts Options) ([]File, error) {
	if _, err := fsys.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	var files []File
	err := afero.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := info.Name()

		if info.IsDir() {
			if name == ".git" || name == StateDir {
				return filepath.SkipDir
			}
			if opts.Meaningful && isHidden(name) {
				return filepath.SkipDir
			}
			if MatchesExclude(rel, opts.Exclude) || MatchesExclude(rel+"/", opts.Exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
			return nil
		}
		if MatchesExclude(rel, opts.Exclude) {
			return nil
		}
		if opts.Meaningful && !IsMeaningful(rel) {
			return nil
		}
		files = append(files, File{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Paths returns only the paths of files.
func Paths(files []File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

// IsMeaningful reports whether a slash-separated vault path counts as note
// content.
func IsMeaningful(rel string) bool {
	rel = strings.TrimPrefix(path.Clean(filepath.ToSlash(rel)), "./")
	for _, part := range strings.Split(rel, "/") {
		if isHidden(part) {
			return false
		}
	}
	base := path.Base(rel)
	if strings.HasPrefix(base, "~") {
		return false
	}
	lower := strings.ToLower(base)
	for _, suffix := range tempSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	for _, placeholder := range PlaceholderFiles {
		if rel == placeholder {
			return false
		}
	}
	return true
}

// FilterMeaningful keeps the meaningful paths from a path list, such as a
// git tree listing.
func FilterMeaningful(paths []string, exclude []string) []string {
	var out []string
	for _, p := range paths {
		if !IsMeaningful(p) || MatchesExclude(p, exclude) {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// MatchesExclude checks whether a path matches any of the given exclude
// glob patterns.
func MatchesExclude(p string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	slashPath := filepath.ToSlash(p)
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		match, err := doublestar.Match(pattern, slashPath)
		if err != nil {
			continue
		}
		if match {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
