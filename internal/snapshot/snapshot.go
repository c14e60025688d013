// Package snapshot holds the immutable in-memory view of one session and the
// single-slot container that publishes it to concurrent readers.
package snapshot

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxTokens is used when a session does not specify a response limit.
const DefaultMaxTokens = 1600

// Chat roles accepted in chat.json.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of a session's chronological chat history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Limits bounds the completion request built from a snapshot.
type Limits struct {
	MaxTokens int `json:"max_tokens"`
}

// CodeContext is a line range of another file handed to the model as context.
// Code is a cache of the extracted text for [StartLine, EndLine); it is always
// recomputed from the live file and never edited by hand.
type CodeContext struct {
	URI          string `json:"uri"`
	StartLine    int    `json:"start_line"`
	EndLine      int    `json:"end_line"` // exclusive
	LanguageID   string `json:"language_id"`
	Code         string `json:"code"`
	Description  string `json:"description,omitempty"`
	LastModified string `json:"last_modified"` // RFC3339
}

// MarkdownDoc is one free-form note from a session's context/ directory.
type MarkdownDoc struct {
	Name    string `json:"name"` // base name, e.g. "conventions.md"
	Content string `json:"content"`
}

// Snapshot is the complete usable state of the active session.
// A Snapshot is never mutated after it has been published; updates build a
// new value and swap it in.
type Snapshot struct {
	SessionID    string        `json:"session_id"`
	Version      uint64        `json:"version"`
	Limits       Limits        `json:"limits"`
	ChatMessages []ChatMessage `json:"chat_messages"`
	CodeContexts []CodeContext `json:"code_contexts"`
	Markdown     []MarkdownDoc `json:"markdown,omitempty"` // sorted by Name
}

// WithContexts returns a copy of s whose code contexts are replaced by
// contexts. Chat messages are shared with s since neither value is mutated.
func (s *Snapshot) WithContexts(contexts []CodeContext) *Snapshot {
	next := *s
	next.CodeContexts = contexts
	return &next
}

// WithMarkdown returns a copy of s whose markdown notes are replaced by docs.
func (s *Snapshot) WithMarkdown(docs []MarkdownDoc) *Snapshot {
	next := *s
	next.Markdown = docs
	return &next
}

// MarkdownContext joins the markdown notes in name order, separated by a
// blank line. Empty notes are skipped.
func (s *Snapshot) MarkdownContext() string {
	parts := make([]string, 0, len(s.Markdown))
	for _, d := range s.Markdown {
		if c := strings.TrimSpace(d.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Validate reports the first structural problem found in s, or nil.
func (s *Snapshot) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("snapshot: empty session id")
	}
	if s.Limits.MaxTokens <= 0 {
		return fmt.Errorf("snapshot %s: max_tokens must be positive, got %d", s.SessionID, s.Limits.MaxTokens)
	}
	for i, m := range s.ChatMessages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("snapshot %s: chat message %d has unknown role %q", s.SessionID, i, m.Role)
		}
	}
	for i, c := range s.CodeContexts {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("snapshot %s: code context %d: %w", s.SessionID, i, err)
		}
	}
	return nil
}

// Validate checks the fields every published CodeContext must carry.
func (c CodeContext) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("empty uri")
	}
	if c.StartLine < 0 {
		return fmt.Errorf("negative start_line %d", c.StartLine)
	}
	if c.EndLine < c.StartLine {
		return fmt.Errorf("end_line %d before start_line %d", c.EndLine, c.StartLine)
	}
	if c.LastModified != "" {
		if _, err := time.Parse(time.RFC3339, c.LastModified); err != nil {
			return fmt.Errorf("last_modified: %w", err)
		}
	}
	return nil
}
