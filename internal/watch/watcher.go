// Package watch reports source tree changes as debounced batches.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before a batch
// is emitted. Editors often write a file in several steps.
const DefaultDebounce = 150 * time.Millisecond

// DefaultPatterns select the files that trigger a rebuild
var DefaultPatterns = []string{
	"src/**",
	"package.json",
	"tsconfig.json",
}

var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"dist/**",
	".pbuild-cache/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// Config holds the parameters for a Watcher
type Config struct {
	// Root is the directory to watch; patterns are relative to it
	Root string

	// Patterns select which files trigger a batch. Empty matches everything
	// not ignored.
	Patterns []string

	// Ignore are extra patterns merged with the built-in ignores
	Ignore []string

	// Debounce defaults to DefaultDebounce
	Debounce time.Duration
}

// Watcher watches a directory tree recursively
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	patterns []string
	ignores  []string
	debounce time.Duration
	logger   *log.Logger
}

// New creates a watcher and registers every non-ignored directory under
// cfg.Root
func New(cfg Config, logger *log.Logger) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}

	for _, pattern := range slices.Concat(cfg.Patterns, cfg.Ignore) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid watch pattern %q", pattern)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		fsw:      fsw,
		root:     root,
		patterns: cfg.Patterns,
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		debounce: debounce,
		logger:   logger,
	}

	if err := w.addDirectories(); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Run sends sorted batches of changed paths (slash-separated, relative to
// the root) to out until ctx is cancelled. Events arriving while a batch
// waits to be received are merged into it. out is closed when Run returns.
func (w *Watcher) Run(ctx context.Context, out chan<- []string) error {
	defer close(out)
	defer w.fsw.Close()

	var (
		pending = make(map[string]bool)
		timer   *time.Timer
		timerC  <-chan time.Time

		ready []string
		sendC chan<- []string
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("file watcher closed unexpectedly")
			}

			rel, ok := w.relevant(evt)
			if !ok {
				continue
			}

			pending[rel] = true

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}

			timerC = timer.C

		case <-timerC:
			timerC = nil

			for _, p := range ready {
				pending[p] = true
			}

			ready = slices.Sorted(maps.Keys(pending))
			clear(pending)
			sendC = out

		case sendC <- ready:
			sendC = nil
			ready = nil

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("file watcher closed unexpectedly")
			}

			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("File events were dropped; some changes may be missed", "err", err)
				continue
			}

			w.logger.Warn("File watcher error", "err", err)
		}
	}
}

// relevant filters an event and returns its root-relative path
func (w *Watcher) relevant(evt fsnotify.Event) (string, bool) {
	if evt.Op == fsnotify.Chmod {
		return "", false
	}

	rel, err := filepath.Rel(w.root, evt.Name)
	if err != nil {
		return "", false
	}

	rel = filepath.ToSlash(rel)

	if w.isIgnored(rel) {
		return "", false
	}

	// New directories extend the recursive watch
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			w.addTree(evt.Name)
			return "", false
		}
	}

	if !w.matches(rel) {
		return "", false
	}

	return rel, true
}

func (w *Watcher) addDirectories() error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("Skipping inaccessible path", "path", path, "err", err)
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}

		if rel != "." && w.isIgnored(filepath.ToSlash(rel)+"/") {
			return filepath.SkipDir
		}

		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}

		return nil
	})
}

// addTree watches a directory created after startup, including any
// subdirectories created before the watch was registered
func (w *Watcher) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil || w.isIgnored(filepath.ToSlash(rel)+"/") {
			return filepath.SkipDir
		}

		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("Failed to watch new directory", "path", path, "err", err)
		}

		return nil
	})
}

func (w *Watcher) isIgnored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) matches(rel string) bool {
	return len(w.patterns) == 0 || matchAny(w.patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}

	return false
}
