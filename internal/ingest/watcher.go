package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const saveExt = ".savegame"

// Watcher reports new or rewritten save files under Dir. Each save is
// handed to Enqueue once it has settled, at most once per Cooldown.
type Watcher struct {
	Dir      string
	Enqueue  func(path string) error
	Cooldown time.Duration
	Settle   time.Duration
	Logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 5 * time.Second
	}
	if w.Settle <= 0 {
		w.Settle = time.Second
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating save watcher: %w", err)
	}
	defer fw.Close()

	if err := addTree(fw, w.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.Dir, err)
	}
	w.logger().Info("watching game saves", "dir", w.Dir)

	var pending sync.WaitGroup
	defer pending.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger().Warn("save watcher error", "error", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fw, ev.Name); err != nil {
						w.logger().Warn("watching new folder failed", "dir", ev.Name, "error", err)
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.accept(ev.Name, time.Now()) {
				continue
			}
			pending.Add(1)
			go func(path string) {
				defer pending.Done()
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.Settle):
				}
				w.logger().Info("save detected", "path", path)
				if err := w.Enqueue(path); err != nil {
					w.logger().Error("queueing save failed", "path", path, "error", err)
				}
			}(ev.Name)
		}
	}
}

// accept reports whether path is a save file outside its cooldown window
// and starts a new window when it is.
func (w *Watcher) accept(path string, now time.Time) bool {
	if !strings.EqualFold(filepath.Ext(path), saveExt) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		w.last = make(map[string]time.Time)
	}
	if t, ok := w.last[path]; ok && now.Sub(t) < w.Cooldown {
		return false
	}
	w.last[path] = now
	return true
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
