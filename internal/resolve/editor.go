package resolve

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/skaphos/vaultkeeper/internal/model"
)

var fallbackEditors = [][]string{
	{"code", "--wait"},
	{"nano"},
	{"vim"},
	{"vi"},
}

// lookPath and getenv are swapped in tests.
var (
	lookPath = exec.LookPath
	getenv   = os.Getenv
)

// ResolveEditor returns the editor argv: configured, then $VISUAL, then
// $EDITOR, then the first installed fallback. It returns nil when nothing
// is available.
func ResolveEditor(configured []string) []string {
	if len(configured) > 0 && strings.TrimSpace(configured[0]) != "" {
		return configured
	}
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if fields := strings.Fields(getenv(env)); len(fields) > 0 {
			return fields
		}
	}
	for _, candidate := range fallbackEditors {
		if _, err := lookPath(candidate[0]); err == nil {
			return candidate
		}
	}
	return nil
}

// ExecEditor runs argv with path appended, attached to the terminal, and
// waits for it to exit.
func ExecEditor(ctx context.Context, argv []string, path string) error {
	args := append(append([]string{}, argv[1:]...), path)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

var (
	markerPrefixes = [][]byte{[]byte("<<<<<<< "), []byte("||||||| "), []byte(">>>>>>> ")}
	markerLines    = [][]byte{[]byte("<<<<<<<"), []byte("|||||||"), []byte("======="), []byte(">>>>>>>")}
)

// HasConflictMarkers reports whether any line is a git conflict marker. The
// separator must stand alone, so Markdown setext underlines do not count.
func HasConflictMarkers(content []byte) bool {
	for _, line := range bytes.Split(content, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		for _, marker := range markerLines {
			if bytes.Equal(line, marker) {
				return true
			}
		}
		for _, marker := range markerPrefixes {
			if bytes.HasPrefix(line, marker) {
				return true
			}
		}
	}
	return false
}

// MarkedContent renders both sides of a conflict in git marker format for
// editing when the working tree has no file to open.
func MarkedContent(c *model.FileConflict) []byte {
	var b bytes.Buffer
	b.WriteString("<<<<<<< local\n")
	b.Write(withNewline(c.Local))
	b.WriteString("=======\n")
	b.Write(withNewline(c.Remote))
	b.WriteString(">>>>>>> remote\n")
	return b.Bytes()
}

func withNewline(b []byte) []byte {
	if len(b) == 0 || b[len(b)-1] == '\n' {
		return b
	}
	return append(append([]byte{}, b...), '\n')
}
