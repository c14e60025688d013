package watch

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher is the filesystem notification capability the Engine depends on.
// Add and Remove subscribe and unsubscribe individual files, or a directory
// whose direct entries are all of interest; Events delivers the cleaned path
// of every subscribed file that changed.
type Watcher interface {
	Add(path string) error
	Remove(path string) error
	Events() <-chan string
	Errors() <-chan error
	Close() error
}

// SubscriptionError is reported when a single path cannot be watched. The
// path is left unwatched; the engine keeps running.
type SubscriptionError struct {
	Path string
	Err  error
}

func (e *SubscriptionError) Error() string {
	return "cannot watch " + e.Path + ": " + e.Err.Error()
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// FSWatcher implements Watcher on top of fsnotify.
//
// Session files are replaced with temp-file + rename, which detaches a watch
// placed on the file itself. FSWatcher therefore watches parent directories
// (reference counted) and forwards only events for subscribed file names or
// for entries of subscribed directories.
type FSWatcher struct {
	w *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]struct{}
	trees map[string]struct{}
	dirs  map[string]int

	events chan string
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewFSWatcher starts an fsnotify watcher with no subscriptions.
func NewFSWatcher() (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	f := &FSWatcher{
		w:      w,
		files:  make(map[string]struct{}),
		trees:  make(map[string]struct{}),
		dirs:   make(map[string]int),
		events: make(chan string),
		errors: make(chan error),
		done:   make(chan struct{}),
	}
	f.wg.Add(1)
	go f.loop()
	return f, nil
}

// Add subscribes path. A file need not exist yet, but its directory must. An
// existing directory subscribes every entry directly inside it.
func (f *FSWatcher) Add(path string) error {
	path = filepath.Clean(path)
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.files[path]; ok {
		return nil
	}
	if _, ok := f.trees[path]; ok {
		return nil
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if err := f.ref(path); err != nil {
			return &SubscriptionError{Path: path, Err: err}
		}
		f.trees[path] = struct{}{}
		return nil
	}
	if err := f.ref(filepath.Dir(path)); err != nil {
		return &SubscriptionError{Path: path, Err: err}
	}
	f.files[path] = struct{}{}
	return nil
}

// Remove unsubscribes path. Removing a path that is not subscribed is a no-op.
func (f *FSWatcher) Remove(path string) error {
	path = filepath.Clean(path)
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.trees[path]; ok {
		delete(f.trees, path)
		return f.unref(path)
	}
	if _, ok := f.files[path]; !ok {
		return nil
	}
	delete(f.files, path)
	return f.unref(filepath.Dir(path))
}

// ref and unref reference count the fsnotify watch on dir. f.mu is held.
func (f *FSWatcher) ref(dir string) error {
	if f.dirs[dir] == 0 {
		if err := f.w.Add(dir); err != nil {
			return err
		}
	}
	f.dirs[dir]++
	return nil
}

func (f *FSWatcher) unref(dir string) error {
	f.dirs[dir]--
	if f.dirs[dir] > 0 {
		return nil
	}
	delete(f.dirs, dir)
	if err := f.w.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	return nil
}

// Events returns the channel of changed subscribed paths. It is closed by
// Close.
func (f *FSWatcher) Events() <-chan string { return f.events }

// Errors returns the channel of watcher errors. It is closed by Close.
func (f *FSWatcher) Errors() <-chan error { return f.errors }

// Close stops the watcher and waits for its goroutine to exit.
func (f *FSWatcher) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.w.Close()
		f.wg.Wait()
	})
	return err
}

func (f *FSWatcher) subscribed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; ok {
		return true
	}
	_, ok := f.trees[filepath.Dir(path)]
	return ok
}

func (f *FSWatcher) loop() {
	defer f.wg.Done()
	defer close(f.events)
	defer close(f.errors)

	for {
		select {
		case <-f.done:
			return

		case event, ok := <-f.w.Events:
			if !ok {
				return
			}
			// Permission changes never alter content.
			if event.Op == fsnotify.Chmod {
				continue
			}
			name := filepath.Clean(event.Name)
			if !f.subscribed(name) {
				continue
			}
			select {
			case f.events <- name:
			case <-f.done:
				return
			}

		case err, ok := <-f.w.Errors:
			if !ok {
				return
			}
			select {
			case f.errors <- err:
			case <-f.done:
				return
			}
		}
	}
}
