package watch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/fakeyudi/snek/internal/session"
	"github.com/fakeyudi/snek/internal/snapshot"
	"github.com/fakeyudi/snek/internal/watch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeWatcher records subscriptions and lets tests inject events.
type fakeWatcher struct {
	mu     sync.Mutex
	subs   map[string]bool
	fail   map[string]bool
	events chan string
	errors chan error
	once   sync.Once
}

func newFakeWatcher(fail ...string) *fakeWatcher {
	f := &fakeWatcher{
		subs:   make(map[string]bool),
		fail:   make(map[string]bool),
		events: make(chan string, 64),
		errors: make(chan error, 8),
	}
	for _, p := range fail {
		f.fail[p] = true
	}
	return f
}

func (f *fakeWatcher) Add(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[path] {
		return errors.New("permission denied")
	}
	f.subs[path] = true
	return nil
}

func (f *fakeWatcher) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, path)
	return nil
}

func (f *fakeWatcher) Events() <-chan string { return f.events }
func (f *fakeWatcher) Errors() <-chan error  { return f.errors }

func (f *fakeWatcher) Close() error {
	f.once.Do(func() { close(f.events) })
	return nil
}

func (f *fakeWatcher) subscribed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[path]
}

func (f *fakeWatcher) send(path string) { f.events <- path }

type workspace struct {
	root string
	dir  string
	id   string
	src  string
}

// newWorkspace creates a session with two chat messages and one context
// covering lines [0,2) of a.py.
func newWorkspace(t *testing.T) workspace {
	t.Helper()
	base := t.TempDir()
	root, meta, err := session.Init(base)
	require.NoError(t, err)
	dir := session.SessionDir(root, meta.ID)

	src := filepath.Join(base, "a.py")
	require.NoError(t, os.WriteFile(src, []byte("l0\nl1\nl2\n"), 0o644))
	uri, err := session.PathToURI(src)
	require.NoError(t, err)

	require.NoError(t, session.AppendMessage(dir, snapshot.ChatMessage{Role: snapshot.RoleUser, Content: "hi"}))
	require.NoError(t, session.AppendMessage(dir, snapshot.ChatMessage{Role: snapshot.RoleAssistant, Content: "hello"}))
	_, err = session.AddContext(dir, snapshot.CodeContext{URI: uri, StartLine: 0, EndLine: 2, LanguageID: "python"})
	require.NoError(t, err)

	return workspace{root: root, dir: dir, id: meta.ID, src: src}
}

// startEngine starts e and runs it until the test ends.
func startEngine(t *testing.T, root string, w watch.Watcher, debounce time.Duration) *watch.Engine {
	t.Helper()
	e := watch.New(root, w, watch.WithDebounce(debounce), watch.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, e.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return e.Stats().Status == watch.StatusRunning }, time.Second, time.Millisecond)
	return e
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}

func TestStartPublishesAndSubscribes(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)

	s := e.State().Current()
	require.NotNil(t, s)
	assert.Equal(t, ws.id, s.SessionID)
	assert.Equal(t, uint64(3), s.Version)
	assert.Len(t, s.ChatMessages, 2)
	require.Len(t, s.CodeContexts, 1)
	assert.Equal(t, "l0\nl1", s.CodeContexts[0].Code)

	assert.True(t, w.subscribed(filepath.Join(ws.root, session.ActiveFile)))
	for _, p := range session.Files(ws.dir) {
		assert.True(t, w.subscribed(p), p)
	}
	assert.True(t, w.subscribed(ws.src))
	assert.True(t, w.subscribed(session.NotesPath(ws.dir)))
	assert.Equal(t, uint64(1), e.Stats().Publishes)
}

func TestStartWithoutPointerFails(t *testing.T) {
	e := watch.New(t.TempDir(), newFakeWatcher())
	err := e.Start()

	var cfgErr *session.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Nil(t, e.State().Current())
	assert.Equal(t, watch.StatusStopped, e.Stats().Status)
}

func TestIncrementalUpdateLeavesChatAndVersion(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)
	before := e.State().Current()

	require.NoError(t, os.WriteFile(ws.src, []byte("n0\nn1\nl2\n"), 0o644))
	w.send(ws.src)

	waitFor(t, func() bool { return e.Stats().Publishes == 2 })
	after := e.State().Current()
	assert.Equal(t, "n0\nn1", after.CodeContexts[0].Code)
	assert.Equal(t, before.Version, after.Version)
	assert.Empty(t, cmp.Diff(before.ChatMessages, after.ChatMessages))
	assert.Equal(t, "l0\nl1", before.CodeContexts[0].Code, "published snapshot was mutated")

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.IncrementalBatches)
	assert.Equal(t, uint64(0), stats.Reloads)
}

// addContext appends a context covering [start,end) of path to the session.
func addContext(t *testing.T, ws workspace, path string, start, end int) {
	t.Helper()
	uri, err := session.PathToURI(path)
	require.NoError(t, err)
	_, err = session.AddContext(ws.dir, snapshot.CodeContext{URI: uri, StartLine: start, EndLine: end, LanguageID: "python"})
	require.NoError(t, err)
}

func TestIncrementalRefreshesOnlyTouchedEntries(t *testing.T) {
	ws := newWorkspace(t)
	other := filepath.Join(filepath.Dir(ws.src), "b.py")
	require.NoError(t, os.WriteFile(other, []byte("b0\nb1\n"), 0o644))
	addContext(t, ws, ws.src, 2, 3)
	addContext(t, ws, other, 0, 1)

	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)
	before := e.State().Current()
	require.Len(t, before.CodeContexts, 3)
	require.Equal(t, "l2", before.CodeContexts[1].Code)

	// a.py shrinks to two lines: the first entry refreshes, the second now
	// starts past the end and keeps its cached code.
	require.NoError(t, os.WriteFile(ws.src, []byte("x0\nx1\n"), 0o644))
	w.send(ws.src)

	waitFor(t, func() bool { return e.Stats().Publishes == 2 })
	after := e.State().Current()
	require.Len(t, after.CodeContexts, 3)
	assert.Equal(t, "x0\nx1", after.CodeContexts[0].Code)
	assert.Equal(t, before.CodeContexts[1], after.CodeContexts[1])
	if diff := cmp.Diff(before.CodeContexts[2], after.CodeContexts[2]); diff != "" {
		t.Errorf("untouched context changed (-before +after):\n%s", diff)
	}
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, uint64(0), e.Stats().Reloads)
}

func TestNoteChangesAreIncremental(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)
	before := e.State().Current()
	require.Empty(t, before.Markdown)

	note := filepath.Join(session.NotesPath(ws.dir), "style.md")
	require.NoError(t, os.WriteFile(note, []byte("Use early returns.\n"), 0o644))
	w.send(note)

	waitFor(t, func() bool { return e.Stats().Publishes == 2 })
	s := e.State().Current()
	assert.Equal(t, []snapshot.MarkdownDoc{{Name: "style.md", Content: "Use early returns.\n"}}, s.Markdown)
	assert.Equal(t, before.Version, s.Version)
	assert.Empty(t, cmp.Diff(before.CodeContexts, s.CodeContexts))
	assert.Equal(t, uint64(0), e.Stats().Reloads)

	require.NoError(t, os.Remove(note))
	w.send(note)

	waitFor(t, func() bool { return e.Stats().Publishes == 3 })
	assert.Empty(t, e.State().Current().Markdown)
	assert.Equal(t, uint64(2), e.Stats().IncrementalBatches)
}

func TestIncrementalBurstIsOneBatch(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 100*time.Millisecond)

	require.NoError(t, os.WriteFile(ws.src, []byte("b0\nb1\n"), 0o644))
	for i := 0; i < 10; i++ {
		w.send(ws.src)
	}

	waitFor(t, func() bool { return e.Stats().IncrementalBatches == 1 })
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, uint64(1), e.Stats().IncrementalBatches)
	assert.Equal(t, uint64(2), e.Stats().Publishes)
}

func TestIncrementalWithoutChangeSkipsPublish(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)
	before := e.State().Current()

	w.send(ws.src)

	waitFor(t, func() bool { return e.Stats().IncrementalBatches == 1 })
	assert.Equal(t, uint64(1), e.Stats().Publishes)
	assert.Same(t, before, e.State().Current())
}

func TestReloadSupersedesIncremental(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 100*time.Millisecond)

	require.NoError(t, os.WriteFile(ws.src, []byte("r0\nr1\n"), 0o644))
	require.NoError(t, session.AppendMessage(ws.dir, snapshot.ChatMessage{Role: snapshot.RoleUser, Content: "more"}))
	w.send(ws.src)
	w.send(filepath.Join(ws.dir, session.ChatFile))
	w.send(ws.src)

	waitFor(t, func() bool { return e.Stats().Reloads == 1 })
	stats := e.Stats()
	assert.Equal(t, uint64(0), stats.IncrementalBatches)
	assert.Equal(t, uint64(2), stats.Publishes)

	s := e.State().Current()
	assert.Len(t, s.ChatMessages, 3)
	assert.Equal(t, uint64(4), s.Version)
	assert.Equal(t, "r0\nr1", s.CodeContexts[0].Code)
}

func TestReloadIsIdempotent(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)
	before := e.State().Current()

	w.send(filepath.Join(ws.dir, session.SessionFile))

	waitFor(t, func() bool { return e.Stats().Publishes == 2 })
	if diff := cmp.Diff(before, e.State().Current()); diff != "" {
		t.Errorf("reload without file changes altered the snapshot (-before +after):\n%s", diff)
	}
}

func TestFailedReloadKeepsSnapshot(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)
	before := e.State().Current()

	require.NoError(t, os.WriteFile(filepath.Join(ws.dir, session.SessionFile), []byte("{broken"), 0o644))
	w.send(filepath.Join(ws.dir, session.SessionFile))

	waitFor(t, func() bool { return e.Stats().FailedReloads == 1 })
	assert.Same(t, before, e.State().Current())
	assert.Equal(t, uint64(1), e.Stats().Publishes)
}

func TestDanglingPointerKeepsSession(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)
	before := e.State().Current()

	pointer := filepath.Join(ws.root, session.ActiveFile)
	require.NoError(t, os.WriteFile(pointer, []byte(`{"schema":1,"id":"x","path":"sessions/x"}`), 0o644))
	w.send(pointer)

	waitFor(t, func() bool { return e.Stats().FailedReloads == 1 })
	assert.Same(t, before, e.State().Current())
	assert.True(t, w.subscribed(filepath.Join(ws.dir, session.ChatFile)))
}

func TestSessionSwitch(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)

	other, err := session.Create(ws.root, "other")
	require.NoError(t, err)
	require.NoError(t, session.Activate(ws.root, other.ID))
	w.send(filepath.Join(ws.root, session.ActiveFile))

	waitFor(t, func() bool { return e.State().Current().SessionID == other.ID })
	s := e.State().Current()
	assert.Empty(t, s.ChatMessages)
	assert.Empty(t, s.CodeContexts)

	otherDir := session.SessionDir(ws.root, other.ID)
	for _, p := range session.Files(otherDir) {
		assert.True(t, w.subscribed(p), p)
	}
	for _, p := range session.Files(ws.dir) {
		assert.False(t, w.subscribed(p), p)
	}
	assert.False(t, w.subscribed(ws.src))

	// The old session's files no longer trigger anything.
	reloads := e.Stats().Reloads
	w.send(filepath.Join(ws.dir, session.ChatFile))
	w.send(ws.src)
	waitFor(t, func() bool { return e.Stats().Ignored == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, reloads, e.Stats().Reloads)
	assert.Equal(t, uint64(0), e.Stats().IncrementalBatches)
}

func TestFailedSwitchKeepsPublishedWatches(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)
	before := e.State().Current()

	broken, err := session.Create(ws.root, "broken")
	require.NoError(t, err)
	require.NoError(t, session.Activate(ws.root, broken.ID))
	brokenDir := session.SessionDir(ws.root, broken.ID)
	require.NoError(t, os.WriteFile(filepath.Join(brokenDir, session.SessionFile), []byte("{broken"), 0o644))
	w.send(filepath.Join(ws.root, session.ActiveFile))

	waitFor(t, func() bool { return e.Stats().FailedReloads == 1 })
	assert.Same(t, before, e.State().Current())
	assert.True(t, w.subscribed(filepath.Join(brokenDir, session.SessionFile)))
	assert.True(t, w.subscribed(ws.src), "context of the published snapshot lost its watch")
	assert.True(t, w.subscribed(session.NotesPath(ws.dir)))

	// Edits to the published snapshot's sources still land.
	require.NoError(t, os.WriteFile(ws.src, []byte("k0\nk1\nl2\n"), 0o644))
	w.send(ws.src)
	waitFor(t, func() bool { return e.Stats().Publishes == 2 })
	assert.Equal(t, "k0\nk1", e.State().Current().CodeContexts[0].Code)
	assert.Equal(t, ws.id, e.State().Current().SessionID)
}

func TestNoiseIsIgnored(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := startEngine(t, ws.root, w, 20*time.Millisecond)

	w.send(filepath.Join(ws.root, "unrelated.txt"))
	w.errors <- errors.New("queue overflow")

	waitFor(t, func() bool { return e.Stats().Ignored == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(1), e.Stats().Publishes)
}

func TestSubscriptionFailureIsNotFatal(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher(ws.src)
	e := startEngine(t, ws.root, w, 20*time.Millisecond)

	assert.Equal(t, uint64(1), e.Stats().SubscriptionFailures)
	assert.False(t, w.subscribed(ws.src))
	require.Len(t, e.State().Current().CodeContexts, 1)
}

func TestRunStopsWhenWatcherCloses(t *testing.T) {
	ws := newWorkspace(t)
	w := newFakeWatcher()
	e := watch.New(ws.root, w, watch.WithDebounce(10*time.Millisecond))
	require.NoError(t, e.Start())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	w.send(ws.src)
	require.NoError(t, w.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the watcher closed")
	}
	assert.Equal(t, watch.StatusStopped, e.Stats().Status)
}

func TestEngineWithFSWatcher(t *testing.T) {
	ws := newWorkspace(t)
	fw, err := watch.NewFSWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Close() })

	e := startEngine(t, ws.root, fw, 50*time.Millisecond)

	// Edit the referenced source file.
	require.NoError(t, os.WriteFile(ws.src, []byte("e0\ne1\ne2\n"), 0o644))
	waitFor(t, func() bool { return e.State().Current().CodeContexts[0].Code == "e0\ne1" })
	s := e.State().Current()
	assert.Equal(t, uint64(3), s.Version)
	assert.Len(t, s.ChatMessages, 2)

	// A note created in the session's notes directory.
	note := filepath.Join(session.NotesPath(ws.dir), "todo.md")
	require.NoError(t, os.WriteFile(note, []byte("ship it"), 0o644))
	waitFor(t, func() bool { return e.State().Current().MarkdownContext() == "ship it" })

	// Switch the active session through an atomic rewrite of active.json.
	other, err := session.Create(ws.root, "other")
	require.NoError(t, err)
	require.NoError(t, session.Activate(ws.root, other.ID))
	waitFor(t, func() bool { return e.State().Current().SessionID == other.ID })
}
