// Package watcher turns filesystem activity in the workspace into the edit
// and focus-change events the activity tracker consumes. It supports
// cross-platform fsnotify event handling.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// skippedDirs are directory names never watched; they churn constantly
// without representing user editing.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// Classifier resolves a file path to a language tag for edit events.
type Classifier func(path string) string

// Watcher observes a workspace directory tree and reports editing activity.
type Watcher struct {
	root     string
	classify Classifier

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a watcher rooted at the given workspace directory.
func New(root string, classify Classifier) *Watcher {
	return &Watcher{root: root, classify: classify}
}

// Subscribe begins watching the workspace and delivering events to handler.
// Write and create events on files become edit events; rename and chmod
// events become focus-change events. Newly created directories are added to
// the watch set. The returned Subscription cancels delivery and releases all
// filesystem watches.
func (w *Watcher) Subscribe(handler Handler) (*Subscription, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err = addDirTree(fsWatcher, w.root); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	w.watcher = fsWatcher
	w.done = make(chan struct{})

	go w.run(fsWatcher, handler, w.done)

	return &Subscription{cancel: func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.watcher != nil {
			close(w.done)
			_ = w.watcher.Close()
			w.watcher = nil
		}
	}}, nil
}

// run is the event loop translating fsnotify events into handler calls.
func (w *Watcher) run(fsWatcher *fsnotify.Watcher, handler Handler, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.dispatch(fsWatcher, event, handler)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			log.Debugf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) dispatch(fsWatcher *fsnotify.Watcher, event fsnotify.Event, handler Handler) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") && name != "." {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !skippedDirs[name] {
				if errAdd := fsWatcher.Add(event.Name); errAdd != nil {
					log.Debugf("failed to watch new directory %s: %v", event.Name, errAdd)
				}
			}
			return
		}
		handler.OnEdit(w.classify(event.Name))
	case event.Op.Has(fsnotify.Write):
		handler.OnEdit(w.classify(event.Name))
	case event.Op.Has(fsnotify.Rename), event.Op.Has(fsnotify.Chmod):
		handler.OnFocusChange()
	}
}

// addDirTree registers watches for root and every non-skipped directory
// beneath it.
func addDirTree(fsWatcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (skippedDirs[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		if errAdd := fsWatcher.Add(path); errAdd != nil {
			log.Debugf("failed to watch directory %s: %v", path, errAdd)
		}
		return nil
	})
}
