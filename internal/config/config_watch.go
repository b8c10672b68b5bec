package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// structuralFields names the dotted config paths that require a process
// restart to take effect. Everything else reloaded from disk is applied
// live via Config.ReplaceFrom.
var structuralFields = []string{
	"gateway.bind",
	"gateway.host",
	"gateway.port",
	"gateway.mode",
	"sessions.storage",
}

// Watcher reloads a config file on write and swaps the live Config's
// fields in place, logging a restart-required warning for any structural
// field that changed instead of silently ignoring it.
type Watcher struct {
	path string
	live *Config
	fsw  *fsnotify.Watcher
	log  *slog.Logger
	stop chan struct{}
}

// WatchFile starts watching path for writes and hot-reloading live's
// fields on change. Call Close to stop watching.
func WatchFile(path string, live *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path: filepath.Clean(path),
		live: live,
		fsw:  fsw,
		log:  slog.Default().With("component", "config.watcher"),
		stop: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) reload() {
	before := w.live.Hash()

	next, err := Load(w.path)
	if err != nil {
		w.log.Error("config reload failed, keeping previous config", "error", err)
		return
	}

	if next.Hash() == before {
		return
	}

	for _, field := range structuralFields {
		if structuralFieldChanged(field, w.live, next) {
			w.log.Warn("structural config field changed, restart required to take effect", "field", field)
		}
	}

	w.live.ReplaceFrom(next)
	w.log.Info("config reloaded")
}

func structuralFieldChanged(field string, before, after *Config) bool {
	before.mu.RLock()
	after.mu.RLock()
	defer before.mu.RUnlock()
	defer after.mu.RUnlock()

	switch field {
	case "gateway.bind":
		return before.Gateway.Bind != after.Gateway.Bind
	case "gateway.host":
		return before.Gateway.Host != after.Gateway.Host
	case "gateway.port":
		return before.Gateway.Port != after.Gateway.Port
	case "gateway.mode":
		return before.Gateway.Mode != after.Gateway.Mode
	case "sessions.storage":
		return before.Sessions.Storage != after.Sessions.Storage
	default:
		return false
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fsw.Close()
}
