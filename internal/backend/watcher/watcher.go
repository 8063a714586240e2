// Package watcher reports changes to files behind provider roots as
// references, so views showing a reference can refresh once the capture
// activity has written it.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jo-hoe/imagecapture/internal/provider"
)

const EventFileChanged = "file.changed"

// Change is published for a file that was created, written or removed.
type Change struct {
	Ref     provider.ImageReference `json:"ref"`
	Removed bool                    `json:"removed"`
}

type Notifier interface {
	Publish(eventType string, data any)
}

// Watch follows every root of p until ctx is cancelled. Missing root
// directories are created. Bursts of events for one file are coalesced into a
// single Change after quiet has passed without further events.
func Watch(ctx context.Context, p *provider.FileProvider, notifier Notifier, quiet time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	for _, root := range p.Roots() {
		if err := os.MkdirAll(root.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create root %s: %w", root.Name, err)
		}
		if err := w.Add(root.Dir); err != nil {
			return fmt.Errorf("failed to watch root %s: %w", root.Name, err)
		}
	}
	slog.Info("watcher: started", "roots", len(p.Roots()))

	pending := make(map[string]bool)
	timer := time.NewTimer(quiet)
	timer.Stop()
	defer timer.Stop()

	flush := func() {
		for path, removed := range pending {
			ref, err := p.URIForFile(path)
			if err != nil {
				continue
			}
			slog.Debug("watcher: file changed", "ref", ref, "removed", removed)
			notifier.Publish(EventFileChanged, Change{Ref: ref, Removed: removed})
		}
		clear(pending)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("watcher: stopped")
			return nil

		case <-timer.C:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
				continue
			}
			pending[ev.Name] = ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0
			timer.Reset(quiet)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("watcher: error", "error", watchErr)
		}
	}
}
