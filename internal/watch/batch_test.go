package watch

import (
	"testing"

	"pgregory.net/rapid"
)

var (
	testPointer  = "/ws/.snek/active.json"
	testSession  = []string{"/ws/.snek/sessions/s/session.json", "/ws/.snek/sessions/s/chat.json", "/ws/.snek/sessions/s/context.json"}
	testNotesDir = "/ws/.snek/sessions/s/context"
	testNotes    = []string{"/ws/.snek/sessions/s/context/a.md", "/ws/.snek/sessions/s/context/B.MD"}
	testContexts = []string{"/src/a.py", "/src/b.py", "/src/c.py"}
	testNoise    = []string{
		"/src/d.py",
		"/ws/.snek/sessions/other/chat.json",
		"/ws/.snek/active.json.tmp",
		"/ws/.snek/sessions/s/context/.a.md-123.tmp",
		"/ws/.snek/sessions/s/context/sub/c.md",
		"/ws/.snek/sessions/other/context/a.md",
	}
)

func testSet() *watchSet {
	set := &watchSet{
		pointer:  testPointer,
		notes:    testNotesDir,
		session:  make(map[string]struct{}),
		contexts: make(map[string]struct{}),
	}
	for _, p := range testSession {
		set.session[p] = struct{}{}
	}
	for _, p := range testContexts {
		set.contexts[p] = struct{}{}
	}
	return set
}

func TestClassify(t *testing.T) {
	set := testSet()
	// A context that is also a session file still means a full reload.
	set.contexts[testSession[1]] = struct{}{}

	cases := map[string]trigger{
		testPointer:     triggerReload,
		testSession[0]:  triggerReload,
		testSession[1]:  triggerReload,
		testContexts[0]: triggerIncremental,
		testNotes[0]:    triggerNote,
		testNotes[1]:    triggerNote,
		"":              triggerNone,
	}
	for _, p := range testNoise {
		cases[p] = triggerNone
	}
	for path, want := range cases {
		if got := set.classify(path); got != want {
			t.Errorf("classify(%q) = %d, want %d", path, got, want)
		}
	}
}

// Feature: snek, Property 4: a window with any reload trigger reloads exactly once and drops incremental work
// Feature: snek, Property 5: a window of only context and note triggers covers the deduplicated set of paths
func TestWindowCoalescing(t *testing.T) {
	universe := append(append(append(append([]string{testPointer}, testSession...), testContexts...), testNotes...), testNoise...)
	set := testSet()

	rapid.Check(t, func(t *rapid.T) {
		events := rapid.SliceOfN(rapid.SampledFrom(universe), 1, 50).Draw(t, "events")

		var w window
		wantReload := false
		wantPaths := make(map[string]struct{})
		wantNotes := make(map[string]struct{})
		for _, p := range events {
			kind := set.classify(p)
			w.add(kind, p)
			switch kind {
			case triggerReload:
				wantReload = true
			case triggerIncremental:
				wantPaths[p] = struct{}{}
			case triggerNote:
				wantNotes[p] = struct{}{}
			}
		}

		if w.reload != wantReload {
			t.Fatalf("reload: got %v, want %v", w.reload, wantReload)
		}
		if len(w.paths) != len(wantPaths) {
			t.Fatalf("paths: got %d, want %d", len(w.paths), len(wantPaths))
		}
		for p := range wantPaths {
			if _, ok := w.paths[p]; !ok {
				t.Fatalf("path %q missing from window", p)
			}
		}
		if len(w.notes) != len(wantNotes) {
			t.Fatalf("notes: got %d, want %d", len(w.notes), len(wantNotes))
		}
		if w.empty() != (!wantReload && len(wantPaths) == 0 && len(wantNotes) == 0) {
			t.Fatalf("empty() disagrees with contents")
		}
	})
}
