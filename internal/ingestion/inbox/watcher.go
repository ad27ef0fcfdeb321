package inbox

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// Watcher queues inbox files as soon as they are created.
type Watcher struct {
	log    *logger.Logger
	syncer *Syncer
}

func NewWatcher(baseLog *logger.Logger, syncer *Syncer) *Watcher {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Watcher{log: baseLog.With("component", "InboxWatcher"), syncer: syncer}
}

// Run watches the inbox until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.syncer.EnsurePaths(); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.syncer.cfg.WatchPath); err != nil {
		return fmt.Errorf("watch %s: %w", w.syncer.cfg.WatchPath, err)
	}
	w.log.Info("Watching directory", "path", w.syncer.cfg.WatchPath)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Shutting down watcher")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			w.log.Debug("Detected new file", "path", ev.Name)
			if _, err := w.syncer.ProcessFile(ctx, ev.Name); err != nil {
				w.log.Warn("Queueing inbox file failed", "path", ev.Name, "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error", "error", err)
		}
	}
}
