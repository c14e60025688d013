// Package watch keeps the published snapshot in sync with the session files
// and the source files they reference.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/session"
	"github.com/fakeyudi/snek/internal/snapshot"
)

// DefaultDebounce is the window opened by the first trigger of a burst.
const DefaultDebounce = 200 * time.Millisecond

// Status is the lifecycle state of an Engine.
type Status int32

const (
	StatusStarting Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	}
	return "unknown"
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	Status               Status `json:"-"`
	Events               uint64 `json:"events"`
	Ignored              uint64 `json:"ignored"`
	Reloads              uint64 `json:"reloads"`
	FailedReloads        uint64 `json:"failed_reloads"`
	IncrementalBatches   uint64 `json:"incremental_batches"`
	Publishes            uint64 `json:"publishes"`
	SubscriptionFailures uint64 `json:"subscription_failures"`
}

type counters struct {
	events, ignored, reloads, failedReloads atomic.Uint64
	incremental, publishes, subFailures     atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

// WithLogger sets the engine logger. A nil logger discards output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine owns the single control loop that classifies filesystem events,
// debounces them and publishes new snapshots.
//
// Start must be called once before Run. Everything except State and Stats
// belongs to the goroutine running Start and Run.
type Engine struct {
	root      string
	watcher   Watcher
	published *snapshot.Published
	debounce  time.Duration
	logger    *zap.Logger

	sessionDir string
	set        watchSet

	status atomic.Int32
	stats  counters
}

// New returns an engine for the workspace root, fed by w.
func New(root string, w Watcher, opts ...Option) *Engine {
	e := &Engine{
		root:      root,
		watcher:   w,
		published: &snapshot.Published{},
		debounce:  DefaultDebounce,
		logger:    zap.NewNop(),
		set: watchSet{
			pointer:  filepath.Join(root, session.ActiveFile),
			session:  make(map[string]struct{}),
			contexts: make(map[string]struct{}),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the slot readers poll for the current snapshot.
func (e *Engine) State() *snapshot.Published {
	return e.published
}

// Stats returns the current counters and status.
func (e *Engine) Stats() Stats {
	return Stats{
		Status:               Status(e.status.Load()),
		Events:               e.stats.events.Load(),
		Ignored:              e.stats.ignored.Load(),
		Reloads:              e.stats.reloads.Load(),
		FailedReloads:        e.stats.failedReloads.Load(),
		IncrementalBatches:   e.stats.incremental.Load(),
		Publishes:            e.stats.publishes.Load(),
		SubscriptionFailures: e.stats.subFailures.Load(),
	}
}

// Start resolves the active session, publishes its first snapshot and
// subscribes the initial watches. A *session.ConfigError or
// *session.LoadError returned here is fatal: there is nothing to serve.
func (e *Engine) Start() error {
	dir, err := session.ResolveActive(e.root)
	if err != nil {
		e.status.Store(int32(StatusStopped))
		return err
	}
	res, err := session.Load(dir)
	if err != nil {
		e.status.Store(int32(StatusStopped))
		return err
	}
	e.logWarnings(res.Warnings)

	e.watch(e.set.pointer)
	e.switchSession(dir)
	e.syncWatches(dir, res.Snapshot)
	e.publish(res.Snapshot)
	return nil
}

// Run processes events until ctx is cancelled or the watcher is closed.
func (e *Engine) Run(ctx context.Context) error {
	e.status.Store(int32(StatusRunning))
	defer e.status.Store(int32(StatusStopped))

	var (
		pending window
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	events := e.watcher.Events()
	errs := e.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case path, ok := <-events:
			if !ok {
				return nil
			}
			e.stats.events.Add(1)
			t := e.set.classify(path)
			if t == triggerNone {
				e.stats.ignored.Add(1)
				continue
			}
			pending.add(t, path)
			if fire == nil {
				timer = time.NewTimer(e.debounce)
				fire = timer.C
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			e.logger.Warn("watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			e.flush(pending)
			pending = window{}
		}
	}
}

// flush performs the work accumulated in one debounce window. A pending
// reload re-derives every context and note, so incremental triggers are
// dropped.
func (e *Engine) flush(w window) {
	switch {
	case w.reload:
		if n := len(w.paths) + len(w.notes); n > 0 {
			e.logger.Debug("full reload supersedes incremental update", zap.Int("paths", n))
		}
		e.reload()
	case len(w.paths) > 0 || len(w.notes) > 0:
		e.incremental(w.paths, w.notes)
	}
}

func (e *Engine) reload() {
	e.stats.reloads.Add(1)

	dir, err := session.ResolveActive(e.root)
	if err != nil {
		e.stats.failedReloads.Add(1)
		e.logger.Warn("keeping previous session", zap.Error(err))
		return
	}
	if dir != e.sessionDir {
		e.logger.Info("switching session", zap.String("from", e.sessionDir), zap.String("to", dir))
		e.switchSession(dir)
	}

	res, err := session.Load(dir)
	if err != nil {
		e.stats.failedReloads.Add(1)
		e.logger.Warn("reload failed, keeping previous snapshot", zap.String("session", dir), zap.Error(err))
		return
	}
	e.logWarnings(res.Warnings)
	e.syncWatches(dir, res.Snapshot)
	e.publish(res.Snapshot)
}

// incremental refreshes the contexts whose files are in paths and the notes
// in notes, and publishes a copy of the current snapshot with only those
// entries replaced.
func (e *Engine) incremental(paths, notes map[string]struct{}) {
	e.stats.incremental.Add(1)

	cur := e.published.Current()
	if cur == nil {
		return
	}
	contexts, changed := e.refreshContexts(cur.CodeContexts, paths)

	docs := cur.Markdown
	for path := range notes {
		next, ok, err := session.RefreshNote(docs, path)
		if err != nil {
			e.logger.Warn("keeping cached note", zap.String("path", path), zap.Error(err))
			continue
		}
		if ok {
			docs = next
			changed++
		}
	}

	if changed == 0 {
		e.logger.Debug("incremental update changed nothing", zap.Int("paths", len(paths)+len(notes)))
		return
	}
	e.publish(cur.WithContexts(contexts).WithMarkdown(docs))
}

// refreshContexts returns a copy of contexts with every entry whose file is
// in paths re-extracted, and the number of entries that changed. An entry
// that cannot be refreshed keeps its cached code.
func (e *Engine) refreshContexts(contexts []snapshot.CodeContext, paths map[string]struct{}) ([]snapshot.CodeContext, int) {
	if len(paths) == 0 {
		return contexts, 0
	}
	next := make([]snapshot.CodeContext, len(contexts))
	copy(next, contexts)

	changed := 0
	for i, c := range contexts {
		path, err := session.URIToPath(c.URI)
		if err != nil {
			continue
		}
		if _, ok := paths[path]; !ok {
			continue
		}
		fresh, err := session.Refresh(c)
		if err != nil {
			e.logger.Warn("keeping cached code", zap.String("uri", c.URI), zap.Error(err))
			continue
		}
		if fresh != c {
			next[i] = fresh
			changed++
		}
	}
	return next, changed
}

func (e *Engine) publish(s *snapshot.Snapshot) {
	e.published.Publish(s)
	e.stats.publishes.Add(1)
	e.logger.Info("published snapshot",
		zap.String("session", s.SessionID),
		zap.Uint64("version", s.Version),
		zap.Int("messages", len(s.ChatMessages)),
		zap.Int("contexts", len(s.CodeContexts)),
		zap.Int("notes", len(s.Markdown)),
	)
}

// switchSession moves the session file watches to the session in dir. Notes
// and code-context watches follow the published snapshot and are left to
// syncWatches, so a session that fails to load does not orphan them.
func (e *Engine) switchSession(dir string) {
	for p := range e.set.session {
		e.unwatch(p)
	}
	e.set.session = make(map[string]struct{})

	for _, p := range session.Files(dir) {
		e.set.session[p] = struct{}{}
		e.watch(p)
	}
	e.sessionDir = dir
}

// syncWatches makes the watched notes directory and code-context files match
// s, loaded from the session in dir.
func (e *Engine) syncWatches(dir string, s *snapshot.Snapshot) {
	if notes := session.NotesPath(dir); notes != e.set.notes {
		if e.set.notes != "" {
			e.unwatch(e.set.notes)
		}
		e.set.notes = ""
		if e.watch(notes) {
			e.set.notes = notes
		}
	}
	e.syncContextWatches(s)
}

// syncContextWatches makes the watched code-context files match s.
func (e *Engine) syncContextWatches(s *snapshot.Snapshot) {
	want := make(map[string]struct{}, len(s.CodeContexts))
	for _, c := range s.CodeContexts {
		path, err := session.URIToPath(c.URI)
		if err != nil {
			e.logger.Warn("cannot watch context", zap.String("uri", c.URI), zap.Error(err))
			continue
		}
		want[path] = struct{}{}
	}
	for p := range e.set.contexts {
		if _, ok := want[p]; !ok {
			e.unwatch(p)
			delete(e.set.contexts, p)
		}
	}
	for p := range want {
		if _, ok := e.set.contexts[p]; ok {
			continue
		}
		if e.watch(p) {
			e.set.contexts[p] = struct{}{}
		}
	}
}

func (e *Engine) watch(path string) bool {
	if err := e.watcher.Add(path); err != nil {
		e.stats.subFailures.Add(1)
		var subErr *SubscriptionError
		if !errors.As(err, &subErr) {
			err = &SubscriptionError{Path: path, Err: err}
		}
		e.logger.Warn("leaving path unwatched", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) unwatch(path string) {
	if err := e.watcher.Remove(path); err != nil {
		e.logger.Debug("unwatch failed", zap.String("path", path), zap.Error(err))
	}
}

func (e *Engine) logWarnings(warnings []error) {
	for _, w := range warnings {
		var partial *session.PartialLoadWarning
		if errors.As(w, &partial) && errors.Is(w, fs.ErrNotExist) {
			e.logger.Info("optional session file missing", zap.String("path", partial.Path))
			continue
		}
		e.logger.Warn("partial load", zap.Error(w))
	}
}
