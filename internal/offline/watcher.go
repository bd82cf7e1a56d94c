package offline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/skaphos/vaultkeeper/internal/discovery"
)

// DefaultDebounce coalesces bursts of editor writes into one notification.
const DefaultDebounce = 2 * time.Second

// Watcher reports local vault changes, debounced.
type Watcher struct {
	fw       *fsnotify.Watcher
	root     string
	debounce time.Duration
	log      *zap.Logger
	changes  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWatcher watches every directory under root except .git and the state
// directory. Directories created later are added as they appear.
func NewWatcher(root string, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		fw:       fw,
		root:     root,
		debounce: debounce,
		log:      log.Named("watcher"),
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w.wg.Add(1)
	go w.run()
	w.log.Info("watcher started", zap.String("dir", root))
	return w, nil
}

// Changes delivers one value per debounced burst of relevant events.
func (w *Watcher) Changes() <-chan struct{} { return w.changes }

// Stop closes the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
		w.wg.Wait()
	})
	return err
}

// Run calls onChange for every debounced change until ctx ends.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	defer func() { _ = w.Stop() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.changes:
			onChange(ctx)
		}
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// ignored reports whether path lies in .git or the state directory.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first == ".git" || first == discovery.StateDir
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if w.ignored(ev.Name) || !relevant(ev.Op) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						w.log.Warn("failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			w.log.Debug("vault change", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", zap.Error(err))
		}
	}
}

func relevant(op fsnotify.Op) bool {
	return op.Has(fsnotify.Create) || op.Has(fsnotify.Write) || op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)
}
