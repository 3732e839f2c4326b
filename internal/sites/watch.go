package sites

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

const watchDebounceInterval = 150 * time.Millisecond

// WatchAndSync monitors the unit root for changes and delivers the
// differences to all targets once filesystem events settle. It needs the
// manager to run on the OS filesystem.
func (s *Syncer) WatchAndSync(ctx context.Context) error {
	logger := s.logger
	root := s.manager.Root()

	s.mu.Lock()
	primed := s.last != nil
	s.mu.Unlock()
	if !primed {
		if _, err := s.Synchronize(ctx); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]struct{})
	if err := s.addRecursiveWatch(watcher, root, watched); err != nil {
		return err
	}

	logger.Info("Watch mode active", "root", root, "debounce", watchDebounceInterval.String())

	var debounceTimer *time.Timer
	for {
		var debounceC <-chan time.Time
		if debounceTimer != nil {
			debounceC = debounceTimer.C
		}

		select {
		case <-ctx.Done():
			logger.Info("Stopping watch mode", "reason", ctx.Err())
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if s.handleWatcherEvent(event, watcher, watched) {
				scheduleSync(&debounceTimer)
			}
		case err, ok := <-watcher.Errors:
			if !ok || err == nil {
				continue
			}
			logger.Error("Watcher error", "error", err)
		case <-debounceC:
			stopTimer(&debounceTimer)
			inv, err := s.manager.Inventory(ctx)
			if err != nil {
				logger.Error("Rescan failed", "error", err)
				if errors.Is(err, context.Canceled) {
					return err
				}
				continue
			}
			if syncErr := s.applyDiff(ctx, inv.Units); syncErr != nil {
				logger.Error("Incremental synchronization failed", "error", syncErr)
				if errors.Is(syncErr, context.Canceled) {
					return syncErr
				}
			}
		}
	}
}

// handleWatcherEvent keeps the watch set in step with the directory tree and
// reports whether the event may have changed the inventory.
func (s *Syncer) handleWatcherEvent(event fsnotify.Event, watcher *fsnotify.Watcher, watched map[string]struct{}) bool {
	logger := s.logger
	path := filepath.Clean(event.Name)
	rel := s.manager.Scanner().relativePath(path)

	if event.Op&fsnotify.Create != 0 {
		info, err := lstat(s.manager.fs, path)
		if err == nil && info.IsDir() {
			if err := s.addRecursiveWatch(watcher, path, watched); err != nil {
				logger.Error("Failed to watch new directory", "path", rel, "error", err)
			}
			return true
		}
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if _, ok := watched[path]; ok {
			if err := watcher.Remove(path); err != nil {
				logger.Debug("Failed to stop watching directory", "path", rel, "error", err)
			}
			delete(watched, path)
			logger.Info("Stopped watching directory", "path", rel)
			return true
		}
	}

	if !shouldTriggerSync(event.Op) {
		return false
	}
	_, _, _, ok := classifyName(filepath.Base(path))
	return ok
}

// addRecursiveWatch registers start and every real directory below it.
func (s *Syncer) addRecursiveWatch(watcher *fsnotify.Watcher, start string, watched map[string]struct{}) error {
	fsys := s.manager.fs
	stack := []string{filepath.Clean(start)}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := watched[dir]; !ok {
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watch directory %s: %w", dir, err)
			}
			watched[dir] = struct{}{}
			s.logger.Debug("Watching directory", "path", s.manager.Scanner().relativePath(dir))
		}

		entries, err := afero.ReadDir(fsys, dir)
		if err != nil {
			return fmt.Errorf("read directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				stack = append(stack, filepath.Join(dir, entry.Name()))
			}
		}
	}
	return nil
}

func shouldTriggerSync(op fsnotify.Op) bool {
	return op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) != 0
}

func scheduleSync(timer **time.Timer) {
	if *timer == nil {
		*timer = time.NewTimer(watchDebounceInterval)
		return
	}
	if !(*timer).Stop() {
		select {
		case <-(*timer).C:
		default:
		}
	}
	(*timer).Reset(watchDebounceInterval)
}

func stopTimer(timer **time.Timer) {
	if *timer == nil {
		return
	}
	if !(*timer).Stop() {
		select {
		case <-(*timer).C:
		default:
		}
	}
	*timer = nil
}
