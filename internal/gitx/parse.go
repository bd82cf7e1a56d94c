package gitx

import (
	"sort"
	"strconv"
	"strings"

	"github.com/skaphos/vaultkeeper/internal/model"
)

// ParsePorcelainStatus parses the output of `git status --porcelain=v1`
// into a Worktree struct.
func ParsePorcelainStatus(output string) *model.Worktree {
	wt := &model.Worktree{}
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		if len(line) < 2 {
			continue
		}
		x := line[0]
		y := line[1]

		if x == '?' && y == '?' {
			wt.Untracked++
			continue
		}
		if isUnmerged(x, y) {
			wt.Conflicted++
			continue
		}
		if x != ' ' && x != '?' {
			wt.Staged++
		}
		if y != ' ' && y != '?' {
			wt.Unstaged++
		}
	}
	wt.Dirty = wt.Staged > 0 || wt.Unstaged > 0 || wt.Untracked > 0 || wt.Conflicted > 0
	return wt
}

// isUnmerged matches the porcelain XY pairs git uses for unmerged paths:
// DD, AU, UD, UA, DU, AA, UU.
func isUnmerged(x, y byte) bool {
	if x == 'U' || y == 'U' {
		return true
	}
	return (x == 'A' && y == 'A') || (x == 'D' && y == 'D')
}

// ParseRevListCount parses the output of:
//
//	git rev-list --left-right --count HEAD...<upstream>
//
// Returns (ahead, behind).
func ParseRevListCount(output string) (int, int) {
	output = strings.TrimSpace(output)
	if output == "" {
		return 0, 0
	}
	parts := strings.Fields(output)
	if len(parts) != 2 {
		return 0, 0
	}
	ahead, _ := strconv.Atoi(parts[0])
	behind, _ := strconv.Atoi(parts[1])
	return ahead, behind
}

// ParseLsRemoteHeads extracts branch names from `git ls-remote --heads` output:
//
//	<sha>\trefs/heads/<branch>
func ParseLsRemoteHeads(output string) []string {
	var heads []string
	for _, line := range ParseLines(output) {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		ref := strings.TrimSpace(parts[1])
		if name, ok := strings.CutPrefix(ref, "refs/heads/"); ok && name != "" {
			heads = append(heads, name)
		}
	}
	sort.Strings(heads)
	return heads
}

// ParseNulList splits NUL-terminated path output (git -z) into paths.
func ParseNulList(output string) []string {
	var paths []string
	for _, p := range strings.Split(output, "\x00") {
		p = strings.TrimRight(p, "\n")
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// ParseLines splits output into trimmed non-empty lines.
func ParseLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
