// Package watch reports changes to configuration files.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vk/cutlet/internal/ctxlog"
)

// DefaultDebounce collapses the burst of events editors produce on save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher calls OnChange after configuration files below its paths changed
// and then stayed quiet for the debounce interval.
type Watcher struct {
	Paths      []string
	Extensions []string
	Debounce   time.Duration
	OnChange   func(ctx context.Context)
}

// New creates a watcher for files with the given extensions.
func New(paths []string, extensions []string, onChange func(ctx context.Context)) *Watcher {
	return &Watcher{
		Paths:      paths,
		Extensions: extensions,
		Debounce:   DefaultDebounce,
		OnChange:   onChange,
	}
}

// Run watches until ctx is cancelled. Single files are watched through
// their directory so that editors replacing the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	if w.OnChange == nil {
		return errors.New("watch: OnChange is nil")
	}
	logger := ctxlog.FromContext(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	files := make(map[string]bool)
	var roots []string
	for _, p := range w.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		if info.IsDir() {
			if err := addTree(fw, abs); err != nil {
				return err
			}
			roots = append(roots, abs)
			continue
		}
		files[abs] = true
		if err := fw.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}
	logger.Info("Watching configuration for changes.", "paths", w.Paths, "debounce", w.Debounce)

	debounce := time.NewTimer(w.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Configuration watcher stopped.")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !hidden(ev.Name) {
					if err := addTree(fw, ev.Name); err != nil {
						logger.Warn("Failed to watch new directory.", "path", ev.Name, "error", err)
					}
					continue
				}
			}
			if !w.relevant(ev, files, roots) {
				continue
			}
			logger.Debug("Configuration file event.", "path", ev.Name, "op", ev.Op.String())
			debounce.Reset(w.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error.", "error", err)

		case <-debounce.C:
			logger.Info("Configuration changed.")
			w.OnChange(ctx)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event, files map[string]bool, roots []string) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	if files[ev.Name] {
		return true
	}
	if hidden(ev.Name) || !w.matches(ev.Name) {
		return false
	}
	// Siblings of a file watched on its own are not configuration.
	for _, root := range roots {
		if isWithin(ev.Name, root) {
			return true
		}
	}
	return false
}

func (w *Watcher) matches(name string) bool {
	for _, ext := range w.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func isWithin(name, dir string) bool {
	rel, err := filepath.Rel(dir, name)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
