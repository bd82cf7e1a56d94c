package cliio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/skaphos/vaultkeeper/internal/model"
	"github.com/skaphos/vaultkeeper/internal/termstyle"
)

// maxInvalid bounds unparseable answers before a prompt gives up.
const maxInvalid = 3

// ErrNoAnswer is returned when input ends or keeps being invalid.
var ErrNoAnswer = errors.New("no answer from terminal")

// IsTerminal reports whether f is attached to a TTY.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Terminal asks strategy and per-file questions on a line-oriented terminal.
type Terminal struct {
	in    *bufio.Reader
	out   io.Writer
	color bool
}

// NewTerminal returns a prompter reading answers from in.
func NewTerminal(in io.Reader, out io.Writer, color bool) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out, color: color}
}

// ChooseStrategy implements model.StrategyChooser.
func (t *Terminal) ChooseStrategy(ctx context.Context, req model.StrategyRequest) (model.Strategy, error) {
	if s := req.State; s != nil {
		fmt.Fprintf(t.out, "\n%s and %s have diverged", t.paint(s.Branch, termstyle.Info), t.paint(s.RemoteBranch, termstyle.Info))
		fmt.Fprintf(t.out, " (%d local, %d remote commit(s))", s.Ahead, s.Behind)
		if !s.CommonAncestor {
			fmt.Fprint(t.out, ", histories are unrelated")
		}
		fmt.Fprintln(t.out)
	}
	for i, opt := range req.Options {
		fmt.Fprintf(t.out, "  %d) %-12s %s\n", i+1, opt, opt.Describe())
	}
	for range maxInvalid {
		line, err := t.ask(ctx, fmt.Sprintf("Strategy [1-%d]: ", len(req.Options)))
		if err != nil {
			return "", err
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(req.Options) {
			return req.Options[n-1], nil
		}
		if s, err := model.ParseStrategy(line); err == nil {
			return s, nil
		}
		fmt.Fprintln(t.out, t.paint("unrecognized choice "+strconv.Quote(line), termstyle.Warn))
	}
	return "", ErrNoAnswer
}

var fileKeys = map[string]model.ResolutionKind{
	"l": model.ResolveKeepLocal,
	"r": model.ResolveKeepRemote,
	"b": model.ResolveKeepBoth,
	"e": model.ResolveManualEdit,
	"s": model.ResolveSkipDeferred,
}

// ResolveFile implements model.FilePrompter. Manual edits leave Content
// empty so the resolver opens an editor.
func (t *Terminal) ResolveFile(ctx context.Context, req model.FileRequest) (model.FileAnswer, error) {
	fmt.Fprintf(t.out, "\nConflict in %s\n", t.paint(req.Path, termstyle.Info))
	if req.Rejected != "" {
		fmt.Fprintln(t.out, t.paint(req.Rejected, termstyle.Error))
	}
	if req.BasePreview != "" {
		fmt.Fprintf(t.out, "--- base\n%s\n", req.BasePreview)
	}
	if req.Diff != "" {
		t.printDiff(req.Diff)
	} else {
		fmt.Fprintf(t.out, "--- local\n%s\n--- remote\n%s\n", req.LocalPreview, req.RemotePreview)
	}
	for range maxInvalid {
		line, err := t.ask(ctx, "[l]ocal, [r]emote, [b]oth, [e]dit, [s]kip: ")
		if err != nil {
			return model.FileAnswer{}, err
		}
		if kind, ok := fileKeys[strings.ToLower(line)]; ok {
			return model.FileAnswer{Kind: kind}, nil
		}
		if kind, err := model.ParseResolutionKind(line); err == nil {
			return model.FileAnswer{Kind: kind}, nil
		}
		fmt.Fprintln(t.out, t.paint("unrecognized choice "+strconv.Quote(line), termstyle.Warn))
	}
	return model.FileAnswer{}, ErrNoAnswer
}

func (t *Terminal) printDiff(diff string) {
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(t.out, t.paint(line, termstyle.Red))
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(t.out, t.paint(line, termstyle.Green))
		default:
			fmt.Fprint(t.out, line)
		}
	}
}

func (t *Terminal) ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := fmt.Fprint(t.out, prompt); err != nil {
		return "", err
	}
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", ErrNoAnswer
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (t *Terminal) paint(value, color string) string {
	return termstyle.Paint(t.color, value, color)
}

// Fixed answers every question the same way, for non-interactive runs.
type Fixed struct {
	Strategy   model.Strategy
	Resolution model.ResolutionKind
}

// ChooseStrategy implements model.StrategyChooser.
func (f Fixed) ChooseStrategy(context.Context, model.StrategyRequest) (model.Strategy, error) {
	if f.Strategy == "" {
		return "", errors.New("histories diverged and no strategy was given; pass --strategy")
	}
	return f.Strategy, nil
}

// ResolveFile implements model.FilePrompter. Without a resolution every
// file is deferred.
func (f Fixed) ResolveFile(context.Context, model.FileRequest) (model.FileAnswer, error) {
	if f.Resolution == "" {
		return model.FileAnswer{Kind: model.ResolveSkipDeferred}, nil
	}
	return model.FileAnswer{Kind: f.Resolution}, nil
}
