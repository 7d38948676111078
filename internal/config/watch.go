package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// lockfileNames mirrors internal/pm's detection precedence list; watched
// here only to re-emit a warning on change, never to re-resolve a manager.
var lockfileNames = map[string]bool{
	"package-lock.json":  true,
	"npm-shrinkwrap.json": true,
	"yarn.lock":          true,
	"pnpm-lock.yaml":     true,
	"bun.lockb":          true,
}

// WatchLockfile watches cwd for create/write events on any recognized
// package-manager lockfile and invokes onChange with its basename,
// grounded on viper's own fsnotify.OnConfigChange wiring in benchflow's
// teacher-adjacent stack (SPEC_FULL.md §1): a long-running `maxConcurrency`
// batch that spawns package-manager tasks should not silently keep using a
// stale resolution if the lockfile changes underneath it. Returns a stop
// function; a non-nil error means no watch was installed (non-fatal to
// the caller — it is advisory diagnostics, not a resolution input).
func WatchLockfile(cwd string, onChange func(name string)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}, err
	}
	if err := watcher.Add(cwd); err != nil {
		_ = watcher.Close()
		return func() {}, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				name := filepath.Base(event.Name)
				if lockfileNames[name] && onChange != nil {
					onChange(name)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
