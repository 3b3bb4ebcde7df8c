package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/artpar/querykit/core/schema"
)

// SchemaWatcher reloads record types when definition files change.
type SchemaWatcher struct {
	app      *App
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	settle   time.Duration
	onReload []func(error)

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewSchemaWatcher creates a watcher for the app's schema directory.
// Bursts of events within settle are coalesced into one reload.
func NewSchemaWatcher(app *App, settle time.Duration) *SchemaWatcher {
	return &SchemaWatcher{
		app:    app,
		logger: app.Logger.With().Str("component", "schema_watcher").Logger(),
		settle: settle,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// OnReload registers a callback run after every reload attempt with
// its result. Register callbacks before Start.
func (w *SchemaWatcher) OnReload(fn func(error)) {
	w.onReload = append(w.onReload, fn)
}

// Start watches the schema directory and its subdirectories.
func (w *SchemaWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	dir := w.app.Config.Schema.Dir
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go w.watchLoop(ctx)

	w.logger.Info().Str("dir", dir).Msg("watching schema files for changes")
	return nil
}

// Stop stops watching. It waits for an in-flight reload to finish.
func (w *SchemaWatcher) Stop() {
	w.mu.Lock()
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()

	if w.watcher != nil {
		w.watcher.Close()
		<-w.done
	}
}

func (w *SchemaWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("schema file changed")

			if event.Op&fsnotify.Create != 0 {
				// New subdirectories are watched too.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err == nil {
						w.logger.Debug().Str("dir", event.Name).Msg("watching new directory")
					}
				}
			}

			if timer == nil {
				timer = time.NewTimer(w.settle)
			} else {
				timer.Reset(w.settle)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			err := w.app.ReloadSchemas(ctx)
			for _, fn := range w.onReload {
				fn(err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("file watcher error")

		case <-ctx.Done():
			return

		case <-w.stopCh:
			return
		}
	}
}

// relevant reports whether event can change the set of definitions.
func (w *SchemaWatcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if schema.IsDefinitionFile(event.Name) {
		return true
	}
	// Directories have no extension; removals of them matter as well.
	return filepath.Ext(event.Name) == ""
}
