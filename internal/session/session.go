// Package session reads and writes the on-disk session files of a snek
// workspace and turns the active session into a snapshot.Snapshot.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fakeyudi/snek/internal/snapshot"
)

// FindRoot walks up from start looking for a .snek directory and returns its
// path. It returns ErrNoWorkspace if none is found.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoWorkspace
		}
		dir = parent
	}
}

// Init creates a .snek directory under dir holding one empty session named
// "default", and makes that session active. It returns the workspace root.
func Init(dir string) (string, *Meta, error) {
	root := filepath.Join(dir, DirName)
	if err := os.MkdirAll(filepath.Join(root, SessionsDir), 0o755); err != nil {
		return "", nil, fmt.Errorf("creating workspace: %w", err)
	}
	meta, err := Create(root, "default")
	if err != nil {
		return "", nil, err
	}
	if err := Activate(root, meta.ID); err != nil {
		return "", nil, err
	}
	return root, meta, nil
}

// Create writes a new empty session under root and returns its metadata.
// The session is not activated.
func Create(root, name string) (*Meta, error) {
	id := uuid.New().String()
	dir := SessionDir(root, id)
	if err := os.MkdirAll(filepath.Join(dir, NotesDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	meta := &Meta{
		Schema:    Schema,
		ID:        id,
		Name:      name,
		Limits:    snapshot.Limits{MaxTokens: snapshot.DefaultMaxTokens},
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	files := Files(dir)
	if err := writeJSON(files[1], chatDoc{Schema: Schema, Messages: []snapshot.ChatMessage{}}); err != nil {
		return nil, err
	}
	if err := writeJSON(files[2], contextDoc{Schema: Schema, Contexts: []snapshot.CodeContext{}}); err != nil {
		return nil, err
	}
	// session.json last: a directory without it is not a session.
	if err := writeJSON(files[0], meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// SessionDir returns the directory of the session with the given id.
func SessionDir(root, id string) string {
	return filepath.Join(root, SessionsDir, id)
}

// Activate points active.json at the session with the given id.
func Activate(root, id string) error {
	if _, err := ReadMeta(SessionDir(root, id)); err != nil {
		return err
	}
	return writeJSON(filepath.Join(root, ActiveFile), Pointer{
		Schema: Schema,
		ID:     id,
		Path:   SessionsDir + "/" + id,
	})
}

// ReadMeta reads the session.json of the session stored in dir.
func ReadMeta(dir string) (*Meta, error) {
	return readMeta(filepath.Join(dir, SessionFile))
}

// List returns the metadata of every readable session under root, most
// recently updated first. Directories without a valid session.json are
// skipped.
func List(root string) ([]Meta, error) {
	entries, err := os.ReadDir(filepath.Join(root, SessionsDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var metas []Meta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := ReadMeta(filepath.Join(root, SessionsDir, e.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, *m)
	}
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// AppendMessage appends msg to the chat history of the session in dir and
// bumps the session version.
func AppendMessage(dir string, msg snapshot.ChatMessage) error {
	if err := checkRoles([]snapshot.ChatMessage{msg}); err != nil {
		return err
	}
	path := filepath.Join(dir, ChatFile)
	var doc chatDoc
	if err := readJSON(path, &doc); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc.Schema = Schema
	doc.Messages = append(doc.Messages, msg)
	if err := writeJSON(path, doc); err != nil {
		return err
	}
	return bump(dir)
}

// AddContext extracts the code for c from its file, appends it to the code
// contexts of the session in dir and bumps the session version. An existing
// entry with the same uri and range is replaced.
func AddContext(dir string, c snapshot.CodeContext) (snapshot.CodeContext, error) {
	fresh, err := Refresh(c)
	if err != nil {
		return c, err
	}
	if err := fresh.Validate(); err != nil {
		return c, err
	}

	path := filepath.Join(dir, ContextFile)
	var doc contextDoc
	if err := readJSON(path, &doc); err != nil && !errors.Is(err, os.ErrNotExist) {
		return c, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc.Schema = Schema

	replaced := false
	for i, existing := range doc.Contexts {
		if existing.URI == fresh.URI && existing.StartLine == fresh.StartLine && existing.EndLine == fresh.EndLine {
			doc.Contexts[i] = fresh
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Contexts = append(doc.Contexts, fresh)
	}
	if err := writeJSON(path, doc); err != nil {
		return c, err
	}
	return fresh, bump(dir)
}

// bump increments the version of the session in dir and stamps updated_at.
func bump(dir string) error {
	meta, err := ReadMeta(dir)
	if err != nil {
		return err
	}
	meta.Version++
	meta.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	return writeJSON(filepath.Join(dir, SessionFile), meta)
}
