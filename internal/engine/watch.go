package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/branchwise/internal/debounce"
)

// watcher calls onChange, debounced, after git metadata under root changes.
type watcher struct {
	root     string
	ignore   []string
	fs       *fsnotify.Watcher
	debounce *debounce.Debouncer
	wg       sync.WaitGroup
}

func startWatcher(root string, delay time.Duration, ignore []string, onChange func()) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	w := &watcher{
		root:     root,
		ignore:   ignore,
		fs:       fsw,
		debounce: debounce.New(delay, onChange),
	}
	paths, err := watchPaths(root)
	if err != nil {
		return nil, errors.Join(err, fsw.Close())
	}
	for _, path := range paths {
		slog.Debug("adding path to FS watcher", slog.String("path", path))
		if err := fsw.Add(path); err != nil {
			return nil, fmt.Errorf("watch %s: %w", path, errors.Join(err, fsw.Close()))
		}
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// watchPaths lists .git and every directory below .git/refs; fsnotify does
// not recurse. A work tree whose .git is a file is watched at its root.
func watchPaths(root string) ([]string, error) {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return []string{root}, nil
	}
	paths := []string{gitDir}
	refs := filepath.Join(gitDir, "refs")
	err = filepath.WalkDir(refs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", refs, err)
	}
	return paths, nil
}

func (w *watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.shouldIgnore(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				w.addIfDir(ev.Name)
			}
			slog.Debug("fsnotify event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			w.debounce.Trigger()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

// addIfDir follows directories created for nested branch names such as
// refs/heads/feature/.
func (w *watcher) addIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.fs.Add(path); err != nil {
		slog.Warn("watch new directory", slog.String("path", path), slog.Any("error", err))
	}
}

func (w *watcher) shouldIgnore(name string) bool {
	return shouldIgnoreWatchPath(w.root, w.ignore, name)
}

func shouldIgnoreWatchPath(root string, patterns []string, name string) bool {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		rel = name
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *watcher) Close() error {
	w.debounce.Stop()
	err := w.fs.Close()
	w.wg.Wait()
	return err
}
