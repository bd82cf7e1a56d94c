package resolve

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/skaphos/vaultkeeper/internal/model"
)

const (
	previewBytes = 2048
	maxDiffLines = 200
)

// BuildRequest assembles the prompt for one conflicted path.
func BuildRequest(c *model.FileConflict, rejected string) model.FileRequest {
	req := model.FileRequest{
		Path:     c.Path,
		Options:  model.ResolutionKinds,
		Rejected: rejected,
	}
	req.LocalPreview = Preview(c.Local, c.LocalMissing)
	req.RemotePreview = Preview(c.Remote, c.RemoteMissing)
	if c.Base != nil {
		req.BasePreview = Preview(c.Base, false)
	}
	if !c.LocalMissing && !c.RemoteMissing && isText(c.Local) && isText(c.Remote) {
		req.Diff = RenderDiff(c.Local, c.Remote)
	}
	return req
}

// Preview truncates content for display.
func Preview(content []byte, missing bool) string {
	switch {
	case missing:
		return "(deleted)"
	case !isText(content):
		return fmt.Sprintf("(binary, %d bytes)", len(content))
	case len(content) <= previewBytes:
		return string(content)
	}
	cut := previewBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return string(content[:cut]) + fmt.Sprintf("\n... (%d more bytes)", len(content)-cut)
}

// RenderDiff returns a line diff from local to remote: "-" lines exist only
// locally, "+" lines only on the remote.
func RenderDiff(local, remote []byte) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(local), string(remote))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	written := 0
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			if written == maxDiffLines {
				out.WriteString("... (diff truncated)\n")
				return out.String()
			}
			out.WriteString(prefix)
			out.WriteString(strings.TrimSuffix(line, "\n"))
			out.WriteByte('\n')
			written++
		}
	}
	return out.String()
}

func isText(content []byte) bool {
	return !bytes.ContainsRune(content, 0) && utf8.Valid(content)
}
