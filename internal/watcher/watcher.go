package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/tagtools/autotagd/internal/config"
	"github.com/tagtools/autotagd/internal/logger"
	"github.com/tagtools/autotagd/internal/tagfile"
)

var log = logger.ForComponent("watcher")

// Saver receives debounced save notifications. Satisfied by the daemon
// server, which routes them into the update coordinator.
type Saver interface {
	FilesSaved(paths []string)
}

// Watcher runs the optional watch mode: instead of (or in addition to) the
// editor hook, project trees are watched with fsnotify and write events are
// treated as saves.
//
// Save bursts are coalesced in place: event paths accumulate in pending
// until the debounce window passes without a new event, or the batch cap is
// reached, and then go to the saver as one batch.
type Watcher struct {
	cfg       config.WatchConfig
	fsWatcher *fsnotify.Watcher
	fsMu      sync.Mutex
	saver     Saver

	pendMu     sync.Mutex
	pending    map[string]struct{}
	flushTimer *time.Timer
	stopped    bool

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

func New(cfg config.WatchConfig, saver Saver) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		cfg:       cfg,
		fsWatcher: fsWatcher,
		saver:     saver,
		pending:   make(map[string]struct{}),
	}, nil
}

func (w *Watcher) AddRoot(path string) error {
	log.Info("watching tree", "root", path)
	if err := w.addDir(path); err != nil {
		return err
	}
	return w.walkAndAdd(path)
}

func (w *Watcher) addDir(path string) error {
	w.fsMu.Lock()
	defer w.fsMu.Unlock()
	return w.fsWatcher.Add(path)
}

func (w *Watcher) walkAndAdd(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		fullPath := filepath.Join(path, entry.Name())
		if w.shouldIgnore(fullPath) {
			continue
		}
		if err := w.addDir(fullPath); err != nil {
			log.Debug("cannot watch directory", "path", fullPath, "error", err)
			continue
		}
		w.walkAndAdd(fullPath)
	}
	return nil
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	for _, root := range w.cfg.Roots {
		if err := w.AddRoot(root); err != nil {
			log.Warn("cannot watch root", "root", root, "error", err)
		}
	}

	go w.handleEvents()
	return nil
}

// Stop shuts the watcher down and hands any still-buffered saves to the
// saver. Events arriving after Stop are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.fsWatcher.Close()

	w.pendMu.Lock()
	w.stopped = true
	if w.flushTimer != nil {
		w.flushTimer.Stop()
		w.flushTimer = nil
	}
	paths := w.drainLocked()
	w.pendMu.Unlock()

	w.deliver(paths)
}

func (w *Watcher) handleEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.shouldIgnore(event.Name) {
				if err := w.addDir(event.Name); err == nil {
					w.walkAndAdd(event.Name)
				}
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if w.shouldIgnore(event.Name) {
		return
	}
	log.Debug("save event", "path", event.Name)
	w.bufferSave(event.Name)
}

func (w *Watcher) bufferSave(path string) {
	w.pendMu.Lock()
	if w.stopped {
		w.pendMu.Unlock()
		return
	}
	w.pending[path] = struct{}{}

	if len(w.pending) >= w.cfg.MaxBatchSize {
		if w.flushTimer != nil {
			w.flushTimer.Stop()
			w.flushTimer = nil
		}
		paths := w.drainLocked()
		w.pendMu.Unlock()
		w.deliver(paths)
		return
	}

	if w.flushTimer == nil {
		w.flushTimer = time.AfterFunc(w.cfg.DebounceWindow.Std(), w.flushPending)
	} else {
		w.flushTimer.Reset(w.cfg.DebounceWindow.Std())
	}
	w.pendMu.Unlock()
}

func (w *Watcher) flushPending() {
	w.pendMu.Lock()
	if w.stopped {
		w.pendMu.Unlock()
		return
	}
	w.flushTimer = nil
	paths := w.drainLocked()
	w.pendMu.Unlock()
	w.deliver(paths)
}

func (w *Watcher) drainLocked() []string {
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	return paths
}

func (w *Watcher) deliver(paths []string) {
	if len(paths) == 0 || w.saver == nil {
		return
	}
	log.Info("reporting saves", "count", len(paths))
	w.saver.FilesSaved(paths)
}

func (w *Watcher) shouldIgnore(path string) bool {
	basename := filepath.Base(path)

	if !w.cfg.WatchHidden && strings.HasPrefix(basename, ".") {
		return true
	}
	// The strip rewrite creates and removes files right next to the tags
	// file; reacting to those would have the watcher feeding on itself.
	if tagfile.IsArtifact(basename) {
		return true
	}

	for _, pattern := range w.cfg.IgnorePatterns {
		if match, _ := doublestar.Match(pattern, filepath.ToSlash(path)); match {
			return true
		}
	}
	return false
}
