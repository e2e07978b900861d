package staging

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"snapkeep/internal/logging"
)

const defaultDebounce = 2 * time.Second

// Watcher calls a trigger when finished files appear in the staging
// directory. Bursts of events are coalesced into one trigger.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  func(ctx context.Context)
	logger   *slog.Logger
}

// NewWatcher builds a watcher for dir. A zero debounce uses two seconds.
func NewWatcher(dir string, debounce time.Duration, trigger func(ctx context.Context), logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		trigger:  trigger,
		logger:   logging.NewComponentLogger(logger, "staging"),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("staging watcher started",
		logging.String("path", w.dir),
		logging.Duration("debounce", w.debounce),
		logging.String(logging.FieldEventType, "staging_watch_started"),
	)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("staging change",
				logging.String(logging.FieldFile, filepath.Base(event.Name)),
				logging.String("op", event.Op.String()),
			)
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() == nil {
					w.trigger(ctx)
				}
			})
			mu.Unlock()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "staging watcher error", "staging_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "uploads wait for the next scheduled trigger"),
			)
		}
	}
}

// relevant accepts creates and renames-into of visible files. Hidden partial
// captures are ignored until they are renamed into place.
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	return !strings.HasPrefix(filepath.Base(event.Name), ".")
}
