package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadSettle collapses the burst of events a single save produces.
const reloadSettle = 150 * time.Millisecond

// Watch reloads path whenever it changes and calls onChange with the new
// Config if the hot-swappable part of its alerts section (see hotAlerts)
// differs from the one last applied. Everything else is read once at
// startup.
//
// The parent directory is watched rather than the file, so editors and
// config-map mounts that replace the file keep being tracked. A file that
// fails to load is logged and ignored. Watch returns when ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	path = filepath.Clean(path)

	current, err := Load(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	slog.Info("config: watching alert settings", "path", path)

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			settle.Reset(reloadSettle)

		case <-settle.C:
			next, err := Load(path)
			if err != nil {
				slog.Error("config: reload rejected", "path", path, "err", err)
				continue
			}
			if reflect.DeepEqual(hotAlerts(next.Alerts), hotAlerts(current.Alerts)) {
				slog.Debug("config: file changed, alert settings unchanged", "path", path)
				continue
			}
			current = next
			slog.Info("config: alert settings reloaded", "path", path,
				"temp_threshold", next.Alerts.TempThreshold,
				"cooldown_seconds", next.Alerts.CooldownSeconds)
			onChange(next)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// hotAlerts strips the alert fields that only take effect at startup.
func hotAlerts(a AlertsConfig) AlertsConfig {
	a.HistorySize = 0
	return a
}
