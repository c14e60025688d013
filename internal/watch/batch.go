package watch

import (
	"path/filepath"

	"github.com/fakeyudi/snek/internal/session"
)

// trigger is the classification of one filesystem event.
type trigger int

const (
	triggerNone trigger = iota
	triggerIncremental
	triggerNote
	triggerReload
)

// watchSet is the set of paths the engine currently cares about.
type watchSet struct {
	pointer  string
	session  map[string]struct{}
	notes    string // notes directory of the published session
	contexts map[string]struct{}
}

// classify maps an event path to the work it calls for. Session files win
// over notes, and notes over code-context files, when a path is several.
func (w *watchSet) classify(path string) trigger {
	if path == w.pointer {
		return triggerReload
	}
	if _, ok := w.session[path]; ok {
		return triggerReload
	}
	if w.notes != "" && filepath.Dir(path) == w.notes && session.IsNote(path) {
		return triggerNote
	}
	if _, ok := w.contexts[path]; ok {
		return triggerIncremental
	}
	return triggerNone
}

// window accumulates triggers between the first event and the debounce
// deadline.
type window struct {
	reload bool
	paths  map[string]struct{}
	notes  map[string]struct{}
}

func (w *window) add(t trigger, path string) {
	switch t {
	case triggerReload:
		w.reload = true
	case triggerIncremental:
		if w.paths == nil {
			w.paths = make(map[string]struct{})
		}
		w.paths[path] = struct{}{}
	case triggerNote:
		if w.notes == nil {
			w.notes = make(map[string]struct{})
		}
		w.notes[path] = struct{}{}
	}
}

func (w *window) empty() bool {
	return !w.reload && len(w.paths) == 0 && len(w.notes) == 0
}
