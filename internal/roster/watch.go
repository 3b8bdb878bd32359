package roster

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"waitline/internal/logging"
)

// reloadDebounce collapses the burst of events a single save produces.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the roster whenever its file changes, until ctx is done.
// The parent directory is watched so atomic replace-on-save is seen.
func (r *Roster) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("roster watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch roster directory %s: %w", dir, err)
	}
	target := filepath.Clean(r.path)

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)
		case <-debounce.C:
			if _, err := r.Reload(ctx); err != nil {
				logging.WarnWithContext(r.logger, "roster reload failed; keeping previous roster", "roster_reload_failed",
					logging.String("path", r.path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "fix the roster file; the next save reloads it"),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("roster watcher error", logging.Error(err))
		}
	}
}
