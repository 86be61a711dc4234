package logging

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig watches bridge.yaml for changes and reloads the logging
// section when it is rewritten. The watcher runs until stop is closed.
// Must be called after Initialize.
func WatchConfig(stop <-chan struct{}) error {
	if dataDir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: editors and config management
	// tools replace the file on save, which drops a file-level watch.
	if err := watcher.Add(dataDir); err != nil {
		watcher.Close()
		return err
	}

	configPath := filepath.Join(dataDir, "bridge.yaml")

	go func() {
		defer watcher.Close()
		watchLoop(watcher.Events, watcher.Errors, stop, configPath)
	}()

	return nil
}

// watchLoop drains the watcher channels until stop is closed or either
// channel closes. A closed channel means the watcher is gone; staying in
// the loop would spin on the permanently-ready receive.
func watchLoop(events <-chan fsnotify.Event, errs <-chan error, stop <-chan struct{}, configPath string) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Name != configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := ReloadConfig(); err != nil {
				Get(CategoryBoot).Warn("config reload failed: %v", err)
				continue
			}
			Boot("logging config reloaded from %s", configPath)
		case err, ok := <-errs:
			if !ok {
				return
			}
			// Watch errors are not fatal to the bridge.
			Get(CategoryBoot).Warn("config watch error: %v", err)
		case <-stop:
			return
		}
	}
}
