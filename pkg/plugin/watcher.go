package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-script/pkg/telemetry"
)

// DefaultDebounce is the quiet period after the last write to a file before
// its change is reported.
const DefaultDebounce = 500 * time.Millisecond

var backendExtensions = map[string][]string{
	"lua":        {".lua"},
	"javascript": {".js", ".cjs"},
	"starlark":   {".star", ".bzl"},
}

// Extensions returns the measure file extensions of a backend.
func Extensions(backend string) []string {
	return backendExtensions[backend]
}

// ChangeFunc handles a changed measure file. Calls are serialized on the
// watcher's goroutine, so a ChangeFunc may drive a Loader directly.
type ChangeFunc func(ctx context.Context, path string)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Extensions filters watched files. Empty means every file.
	Extensions []string
	Debounce   time.Duration
	Logger     zerolog.Logger
	Telemetry  *telemetry.Telemetry
}

// Watcher reports edits to measure files.
type Watcher struct {
	config  WatcherConfig
	watcher *fsnotify.Watcher
	fired   chan string
	done    chan struct{}
}

// NewWatcher returns a watcher. Call Watch to start it.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	cfg.Logger = cfg.Logger.With().Str("component", "measure-watcher").Logger()
	return &Watcher{
		config: cfg,
		fired:  make(chan string, 16),
		done:   make(chan struct{}),
	}
}

// Watch starts watching paths and calls onChange for every debounced change
// to a matching file until ctx is cancelled. Directories are watched
// recursively.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange ChangeFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	watched := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			w.config.Logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			err = w.watchDirectory(path)
		} else {
			// Editors replace files on save, so watch the parent directory.
			err = watcher.Add(filepath.Dir(path))
		}
		if err != nil {
			w.config.Logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return fmt.Errorf("none of %d paths could be watched", len(paths))
	}

	go w.processEvents(ctx, onChange)

	w.config.Logger.Info().
		Int("paths", watched).
		Strs("extensions", w.config.Extensions).
		Msg("Started watching measure paths")

	return nil
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) watchDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) matches(name string) bool {
	if len(w.config.Extensions) == 0 {
		return true
	}
	return slices.Contains(w.config.Extensions, strings.ToLower(filepath.Ext(name)))
}

func (w *Watcher) processEvents(ctx context.Context, onChange ChangeFunc) {
	defer close(w.done)

	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !w.matches(event.Name) {
				continue
			}

			w.config.Logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Measure file changed")

			name := event.Name
			if t, ok := pending[name]; ok {
				t.Stop()
			}
			pending[name] = time.AfterFunc(w.config.Debounce, func() { w.deliver(ctx, name) })

		case name := <-w.fired:
			delete(pending, name)
			if tel := w.config.Telemetry; tel != nil && tel.Events != nil {
				_ = tel.Events.PublishMeasureChanged(name)
			}
			onChange(ctx, name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// deliver hands a debounced change to the event loop. It gives up once the
// loop has stopped, whichever way it stopped.
func (w *Watcher) deliver(ctx context.Context, name string) {
	select {
	case w.fired <- name:
	case <-ctx.Done():
	case <-w.done:
	}
}
