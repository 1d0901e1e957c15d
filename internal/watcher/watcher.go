// Package watcher wraps fsnotify with recursive directory registration and
// ignore patterns. Debouncing is not done here; the hot orchestrator owns the
// debounce window so that it can fold events into its next action.
package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/elmwatch/logging"
)

// EventName classifies a filesystem change.
type EventName string

const (
	Added   EventName = "added"
	Changed EventName = "changed"
	Removed EventName = "removed"
)

// Event is one observed filesystem change.
type Event struct {
	Date time.Time
	Name EventName
	// Path is absolute.
	Path string
}

// DefaultIgnorePatterns are directories never worth watching.
var DefaultIgnorePatterns = []string{
	"**/elm-stuff",
	"**/node_modules",
	"**/.git",
}

// Watcher emits classified events for a directory tree.
type Watcher struct {
	root    string
	fs      *fsnotify.Watcher
	matcher *patternmatcher.PatternMatcher
	logger  *logrus.Entry
	now     func() time.Time

	events chan Event
	errors chan error
	done   chan struct{}
}

// New creates a Watcher rooted at root, registering every non-ignored
// directory below it. The now function is injectable for tests.
func New(root string, ignorePatterns []string, now func() time.Time) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if ignorePatterns == nil {
		ignorePatterns = DefaultIgnorePatterns
	}
	matcher, err := patternmatcher.New(ignorePatterns)
	if err != nil {
		fsw.Close()
		return nil, err
	}

	if now == nil {
		now = time.Now
	}

	w := &Watcher{
		root:    root,
		fs:      fsw,
		matcher: matcher,
		logger:  logging.NewLogger("watcher"),
		now:     now,
		events:  make(chan Event, 64),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Events returns the channel of classified filesystem events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of watcher failures. A watcher failure is fatal
// to the hot run.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) && path != w.root {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.WithError(err).Warnf("Failed to watch %s", path)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	matched, err := w.matcher.MatchesOrParentMatches(rel)
	if err != nil {
		return false
	}
	return matched
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	if w.ignored(path) {
		return
	}

	var name EventName
	switch {
	case event.Op&fsnotify.Create != 0:
		name = Added
		// New directories must be registered; fsnotify is not recursive.
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addRecursive(path); err != nil {
				w.logger.WithError(err).Warnf("Failed to watch new directory %s", path)
			}
			return
		}
	case event.Op&fsnotify.Write != 0:
		name = Changed
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		name = Removed
	default:
		return
	}

	select {
	case w.events <- Event{Date: w.now(), Name: name, Path: path}:
	case <-w.done:
	}
}
