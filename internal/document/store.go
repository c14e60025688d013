// Package document caches the text of the editor's active document so that
// completion requests can split it at the cursor without touching disk.
package document

import (
	"errors"
	"strings"
	"sync"
	"unicode/utf8"
)

// ErrNotOpen is returned by Context when the requested uri is not the active
// document.
var ErrNotOpen = errors.New("document not open")

// Document is the cached state of the active document.
type Document struct {
	URI        string
	LanguageID string
	Text       string
}

// Split is the active document's text divided at a cursor position.
type Split struct {
	Prefix     string
	Suffix     string
	LanguageID string
}

// Store holds at most one document. Editors send the full text on every
// change, so a change simply replaces it.
type Store struct {
	mu     sync.RWMutex
	active *Document
}

func NewStore() *Store {
	return &Store{}
}

// Open makes uri the active document, replacing any previous one.
func (s *Store) Open(uri, languageID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &Document{URI: uri, LanguageID: languageID, Text: text}
}

// Change replaces the text of the active document. It reports false and does
// nothing when uri is not the active document.
func (s *Store) Change(uri, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.URI != uri {
		return false
	}
	s.active = &Document{URI: uri, LanguageID: s.active.LanguageID, Text: text}
	return true
}

// Close forgets the active document if it is uri.
func (s *Store) Close(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.URI != uri {
		return false
	}
	s.active = nil
	return true
}

// Active returns a copy of the active document.
func (s *Store) Active() (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return Document{}, false
	}
	return *s.active, true
}

// Context splits the active document at (line, character).
func (s *Store) Context(uri string, line, character int) (Split, error) {
	s.mu.RLock()
	doc := s.active
	s.mu.RUnlock()

	if doc == nil || doc.URI != uri {
		return Split{}, ErrNotOpen
	}
	off := Offset(doc.Text, line, character)
	return Split{
		Prefix:     doc.Text[:off],
		Suffix:     doc.Text[off:],
		LanguageID: doc.LanguageID,
	}, nil
}

// Offset converts a zero-based (line, character) position into a byte offset
// into text. character is clamped to the length of its line and the result to
// the length of text; a line past the end yields len(text). The offset never
// falls inside a multi-byte rune.
func Offset(text string, line, character int) int {
	if line < 0 {
		line = 0
	}
	if character < 0 {
		character = 0
	}

	off := 0
	rest := text
	for i := 0; i < line; i++ {
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return len(text)
		}
		off += nl + 1
		rest = rest[nl+1:]
	}

	lineText := rest
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		lineText = rest[:nl]
	}
	lineText = strings.TrimSuffix(lineText, "\r")
	if character > len(lineText) {
		character = len(lineText)
	}
	for character > 0 && character < len(lineText) && !utf8.RuneStart(lineText[character]) {
		character--
	}
	return off + character
}
