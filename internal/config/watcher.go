package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow collapses editor write bursts (truncate+write, atomic
// rename) into a single event per file.
const debounceWindow = 200 * time.Millisecond

// ReloadEvent reports a changed config file.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher watches the home directory and emits a ReloadEvent when
// config.yaml or PERSONA.md changes. Watching the directory rather than the
// files themselves survives editors that replace files by rename.
type Watcher struct {
	homeDir string
	logger  *slog.Logger
	events  chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		logger:  logger,
		events:  make(chan ReloadEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.homeDir); err != nil {
		fsw.Close()
		return err
	}

	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	defer close(w.events)

	watched := map[string]bool{
		"config.yaml": true,
		PersonaFile:   true,
	}
	lastEmit := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !watched[filepath.Base(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			now := time.Now()
			if now.Sub(lastEmit[ev.Name]) < debounceWindow {
				continue
			}
			lastEmit[ev.Name] = now

			select {
			case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			default:
				w.logger.Warn("reload event dropped, consumer too slow", "path", ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
