package config

import (
	"fmt"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a config file, re-running Load on every write and
// handing the result to onChange. fsnotify is already a direct teacher
// dependency (imported for its own config.yaml editing elsewhere); here it
// backs the batch-vs-interactive ontology cache tuning this spec adds
// (SPEC_FULL.md "Batch-mode cache tuning"): a long-lived process can pick
// up a revised ontology.cache.timeout.ms.* or sharding.threshold without
// restarting.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchFile starts watching path for writes, calling onChange with the
// freshly-reloaded Config after each one. Reload and watch errors are
// logged, not returned, since there is no caller left to hand them to once
// the watch loop is running in its own goroutine; a failed reload keeps
// the previous config and skips onChange.
func WatchFile(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) loop(onChange func(*Config)) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Printf("config: reload %s failed, keeping previous config: %v", w.path, err)
				continue
			}
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config: watch %s: %v", w.path, err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
