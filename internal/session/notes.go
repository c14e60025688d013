package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fakeyudi/snek/internal/snapshot"
)

// NotesPath returns the directory holding the markdown notes of the session
// stored in dir.
func NotesPath(dir string) string {
	return filepath.Join(dir, NotesDir)
}

// IsNote reports whether path names a markdown note.
func IsNote(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

// ReadNotes reads every *.md file directly under the notes directory of the
// session in dir, sorted by name. A missing directory yields no notes and no
// warnings; an unreadable note is skipped with a *PartialLoadWarning.
func ReadNotes(dir string) ([]snapshot.MarkdownDoc, []error) {
	notesDir := NotesPath(dir)
	entries, err := os.ReadDir(notesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{&PartialLoadWarning{Path: notesDir, Err: err}}
	}

	var (
		docs     []snapshot.MarkdownDoc
		warnings []error
	)
	for _, e := range entries {
		if e.IsDir() || !IsNote(e.Name()) {
			continue
		}
		path := filepath.Join(notesDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, &PartialLoadWarning{Path: path, Err: err})
			continue
		}
		docs = append(docs, snapshot.MarkdownDoc{Name: e.Name(), Content: string(data)})
	}
	// os.ReadDir already sorts by file name.
	return docs, warnings
}

// RefreshNote re-reads the note at path and returns docs with that note
// replaced, inserted or, when the file is gone, removed. docs is not
// modified. changed is false when the result equals docs.
func RefreshNote(docs []snapshot.MarkdownDoc, path string) (next []snapshot.MarkdownDoc, changed bool, err error) {
	name := filepath.Base(path)
	i := sort.Search(len(docs), func(i int) bool { return docs[i].Name >= name })
	found := i < len(docs) && docs[i].Name == name

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !found {
			return docs, false, nil
		}
		next = make([]snapshot.MarkdownDoc, 0, len(docs)-1)
		next = append(next, docs[:i]...)
		return append(next, docs[i+1:]...), true, nil
	case err != nil:
		return docs, false, err
	}

	doc := snapshot.MarkdownDoc{Name: name, Content: string(data)}
	if found {
		if docs[i] == doc {
			return docs, false, nil
		}
		next = make([]snapshot.MarkdownDoc, len(docs))
		copy(next, docs)
		next[i] = doc
		return next, true, nil
	}
	next = make([]snapshot.MarkdownDoc, 0, len(docs)+1)
	next = append(next, docs[:i]...)
	next = append(next, doc)
	return append(next, docs[i:]...), true, nil
}

// AddNote writes content as the note name in the session stored in dir and
// bumps the session version. name gains a .md extension when it has none.
func AddNote(dir, name, content string) (string, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid note name %q", name)
	}
	if !IsNote(name) {
		name += ".md"
	}
	notesDir := NotesPath(dir)
	if err := os.MkdirAll(notesDir, 0o755); err != nil {
		return "", fmt.Errorf("creating notes directory: %w", err)
	}
	path := filepath.Join(notesDir, name)
	if err := writeAtomic(path, []byte(content)); err != nil {
		return "", err
	}
	return path, bump(dir)
}
