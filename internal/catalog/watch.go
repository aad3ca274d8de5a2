package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloadable serves a Static catalog that can be swapped while in use.
type Reloadable struct {
	current atomic.Pointer[Static]
}

var _ Provider = (*Reloadable)(nil)

// NewReloadable starts out serving s.
func NewReloadable(s *Static) *Reloadable {
	r := &Reloadable{}
	r.Store(s)
	return r
}

// Store replaces the served catalog.
func (r *Reloadable) Store(s *Static) {
	if s == nil {
		s = NewStatic("", "")
	}
	r.current.Store(s)
}

// Load returns the served catalog.
func (r *Reloadable) Load() *Static {
	return r.current.Load()
}

// FindObject implements Provider.
func (r *Reloadable) FindObject(ctx context.Context, parts []string) (*Object, error) {
	return r.Load().FindObject(ctx, parts)
}

// SearchSchema implements SearchPath.
func (r *Reloadable) SearchSchema(ctx context.Context) (*Object, error) {
	return r.Load().SearchSchema(ctx)
}

// Attributes implements Provider.
func (r *Reloadable) Attributes(ctx context.Context, table *Object) ([]Column, error) {
	return r.Load().Attributes(ctx, table)
}

// Children implements Provider.
func (r *Reloadable) Children(ctx context.Context, parent *Object) ([]*Object, error) {
	return r.Load().Children(ctx, parent)
}

// PseudoColumns implements Provider.
func (r *Reloadable) PseudoColumns(ctx context.Context, table *Object) ([]string, error) {
	return r.Load().PseudoColumns(ctx, table)
}

const reloadDelay = 100 * time.Millisecond

// Watch reloads the YAML catalog at path into r whenever the file changes,
// until ctx is done. onReload, if non-nil, runs after each successful reload.
// A file that fails to parse keeps the previous catalog.
func Watch(ctx context.Context, r *Reloadable, path string, logger *slog.Logger, onReload func()) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors often replace the file, so watch its directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		watchLoop(ctx, watcher, abs, logger, func() {
			s, err := LoadFile(abs)
			if err != nil {
				logger.Warn("catalog reload failed", "path", abs, "error", err)
				return
			}
			r.Store(s)
			logger.Info("catalog reloaded", "path", abs, "relations", len(s.Relations()))
			if onReload != nil {
				onReload()
			}
		})
	}()
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, logger *slog.Logger, reload func()) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("catalog watcher error", "error", err)
		}
	}
}
