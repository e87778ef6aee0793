package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kata-ci/staticbuild/internal/logfields"
)

// ManifestWatcher monitors the version manifest and triggers a rebuild when
// it changes. Events are debounced so one editor save (often a write plus a
// rename) causes a single run.
type ManifestWatcher struct {
	manifestPath string
	trigger      func(reason string)
	watcher      *fsnotify.Watcher
	debounce     time.Duration
	stopChan     chan struct{}
	kickChan     chan struct{}
}

// NewManifestWatcher creates a watcher for the manifest at path.
func NewManifestWatcher(path string, trigger func(reason string)) (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}
	return &ManifestWatcher{
		manifestPath: absPath,
		trigger:      trigger,
		watcher:      watcher,
		debounce:     2 * time.Second,
		stopChan:     make(chan struct{}),
		kickChan:     make(chan struct{}, 1),
	}, nil
}

// Start begins monitoring. Watching the parent directory is more reliable
// than watching the file itself across atomic replaces.
func (mw *ManifestWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(mw.manifestPath)
	if err := mw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch manifest directory %s: %w", dir, err)
	}

	slog.Info("Starting manifest watcher", logfields.Path(mw.manifestPath))
	go mw.watchLoop(ctx)
	go mw.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (mw *ManifestWatcher) Stop() {
	close(mw.stopChan)
	if err := mw.watcher.Close(); err != nil {
		slog.Error("Error closing manifest watcher", logfields.Error(err))
	}
}

func (mw *ManifestWatcher) watchLoop(ctx context.Context) {
	name := filepath.Base(mw.manifestPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-mw.stopChan:
			return
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Op&fsnotify.Write != 0, event.Op&fsnotify.Create != 0, event.Op&fsnotify.Rename != 0:
				slog.Debug("Manifest change detected", logfields.Path(event.Name))
				mw.kick()
			case event.Op&fsnotify.Remove != 0:
				slog.Warn("Manifest removed", logfields.Path(event.Name))
			}
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Manifest watcher error", logfields.Error(err))
		}
	}
}

func (mw *ManifestWatcher) kick() {
	select {
	case mw.kickChan <- struct{}{}:
	default:
	}
}

func (mw *ManifestWatcher) debounceLoop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-mw.stopChan:
			return
		case <-mw.kickChan:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(mw.debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			slog.Info("Manifest changed, triggering rebuild", logfields.Path(mw.manifestPath))
			mw.trigger("manifest-change")
		}
	}
}
