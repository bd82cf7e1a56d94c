package backup

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/skaphos/vaultkeeper/internal/discovery"
	"github.com/skaphos/vaultkeeper/internal/fileutil"
)

// IgnoreRule is appended to the vault's .gitignore.
const IgnoreRule = "/" + discovery.StateDir + "/"

// EnsureIgnored adds IgnoreRule to <root>/.gitignore unless an equivalent
// rule is already present. It reports whether the file changed.
func EnsureIgnored(fsys afero.Fs, root string) (bool, error) {
	return ensureRule(fsys, filepath.Join(root, ".gitignore"))
}

// EnsureExcluded adds IgnoreRule to the repository's info/exclude file. Unlike
// .gitignore it is never touched by checkouts or merges. A vault that is not
// yet a repository, or whose .git is not a directory, is left alone.
func EnsureExcluded(fsys afero.Fs, root string) (bool, error) {
	gitDir := filepath.Join(root, ".git")
	info, err := fsys.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return false, nil
	}
	return ensureRule(fsys, filepath.Join(gitDir, "info", "exclude"))
}

func ensureRule(fsys afero.Fs, p string) (bool, error) {
	name := filepath.Base(p)
	data, err := afero.ReadFile(fsys, p)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		switch strings.TrimSpace(line) {
		case discovery.StateDir, discovery.StateDir + "/", "/" + discovery.StateDir, IgnoreRule:
			return false, nil
		}
	}

	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString("# vaultkeeper local state\n")
	buf.WriteString(IgnoreRule + "\n")
	if err := fileutil.AtomicWrite(fsys, p, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("update %s: %w", name, err)
	}
	return true, nil
}

var recoveryTemplate = template.Must(template.New("recovery").Parse(`vaultkeeper recovery instructions
=================================

An operation on this vault did not complete. Your files were saved before
it started and can be restored.

Vault:     {{ .Vault }}
Snapshot:  {{ .ID }}
Reason:    {{ .Reason }}
Created:   {{ .Created }}
Files:     {{ .Count }}
Location:  {{ .Storage }}
{{- if .Description }}
Note:      {{ .Description }}
{{- end }}

To restore automatically:

    vaultkeeper backup restore {{ .ID }} --vault {{ .Vault }}

To restore by hand, copy the contents of

    {{ .Storage }}{{ .Sep }}files

over the vault directory. If a merge is still in progress, run
"git merge --abort" inside the vault first.
{{- if .Files }}

Saved files:
{{- range .Files }}
    {{ . }}
{{- end }}
{{- end }}
`))

// RecoveryInstructions writes a plain-text guide for restoring snapshot id
// and returns its path. An existing guide is left untouched.
func (m *Manager) RecoveryInstructions(id string) (string, error) {
	p := m.recoveryPath(id)
	if fileutil.Exists(m.fs, p) {
		return p, nil
	}
	snap, err := m.Get(id)
	if err != nil {
		return "", err
	}

	files := snap.Files
	const maxListed = 50
	if len(files) > maxListed {
		files = append(append([]string{}, files[:maxListed]...), fmt.Sprintf("... and %d more", len(snap.Files)-maxListed))
	}
	var buf bytes.Buffer
	err = recoveryTemplate.Execute(&buf, map[string]any{
		"Vault":       m.root,
		"ID":          snap.ID,
		"Reason":      snap.Reason,
		"Created":     snap.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"),
		"Count":       len(snap.Files),
		"Storage":     snap.StoragePath,
		"Description": snap.Description,
		"Sep":         string(filepath.Separator),
		"Files":       files,
	})
	if err != nil {
		return "", err
	}
	if err := fileutil.AtomicWrite(m.fs, p, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	m.log.Info("recovery instructions written", zap.String("snapshot", id), zap.String("path", p))
	return p, nil
}
