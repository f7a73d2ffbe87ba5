package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 10 * time.Millisecond

var defaultIgnoredFolders = []string{"node_modules", ".git"}

// FileWatcher publishes debounced FileChanged events for every file under
// Root that is not ignored.
type FileWatcher struct {
	Root     string
	Ignore   []GlobMatcher
	Debounce time.Duration
	Events   *BuildEvents
	Metrics  *Metrics

	watcher    *fsnotify.Watcher
	debouncers *KeyedDebouncer
}

func NewFileWatcher(root string, ignoredFolders []string, events *BuildEvents) (*FileWatcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ignore, err := CreateGlobMatchers(ignoredFolders, absRoot)
	if err != nil {
		return nil, fmt.Errorf("ignored folders: %w", err)
	}
	return &FileWatcher{
		Root:     absRoot,
		Ignore:   ignore,
		Debounce: defaultWatchDebounce,
		Events:   events,
	}, nil
}

func (w *FileWatcher) isIgnored(absolutePath string) bool {
	if strings.HasSuffix(absolutePath, "~") {
		return true
	}
	if absolutePath == w.Root {
		return false
	}
	return MatchesAnyGlobMatcher(absolutePath, w.Ignore)
}

func (w *FileWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.isIgnored(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Run watches until ctx is cancelled. Directories created while running are
// added to the watch list.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher
	defer watcher.Close()

	if err := w.addRecursive(w.Root); err != nil {
		return fmt.Errorf("failed to register watcher: %w", err)
	}

	w.debouncers = NewKeyedDebouncer(w.Debounce)
	defer w.debouncers.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			LogError("File watcher error: %v", err)

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		}
	}
}

func (w *FileWatcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	absolutePath := ev.Name
	if w.isIgnored(absolutePath) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(absolutePath); err == nil && info.IsDir() {
			if err := w.addRecursive(absolutePath); err != nil {
				LogWarning("Failed to watch %s: %v", absolutePath, err)
			}
			return
		}
	}

	relative, ok := RelativeSlashPath(w.Root, absolutePath)
	if !ok {
		return
	}

	w.debouncers.Trigger(absolutePath, func() {
		if w.Metrics != nil {
			w.Metrics.FileChanges.Inc()
		}
		LogVerbose("File changed: %s", relative)
		w.Events.FileChanged.Publish(FileChange{Absolute: absolutePath, Relative: relative})
	})
}
