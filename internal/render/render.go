// Package render formats a session snapshot for people and tools.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fakeyudi/snek/internal/snapshot"
)

// Report is what status output and the snapshot resources describe.
type Report struct {
	SessionName string             `json:"session_name,omitempty"`
	SessionDir  string             `json:"session_dir,omitempty"`
	Snapshot    *snapshot.Snapshot `json:"snapshot"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// Renderer serializes a Report to bytes.
type Renderer interface {
	Render(r *Report) ([]byte, error)
}

// ForFormat returns the renderer for "text", "json" or "markdown".
func ForFormat(format string) (Renderer, error) {
	switch format {
	case "", "text":
		return &TextRenderer{}, nil
	case "json":
		return &JSONRenderer{}, nil
	case "markdown", "md":
		return &MarkdownRenderer{}, nil
	}
	return nil, fmt.Errorf("unknown format %q (want text, json or markdown)", format)
}

// JSONRenderer renders a Report as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(rep *Report) ([]byte, error) {
	return json.MarshalIndent(rep, "", "  ")
}

// TextRenderer renders a compact one-screen summary.
type TextRenderer struct{}

func (r *TextRenderer) Render(rep *Report) ([]byte, error) {
	s := rep.Snapshot
	var sb strings.Builder
	fmt.Fprintf(&sb, "session   %s", s.SessionID)
	if rep.SessionName != "" {
		fmt.Fprintf(&sb, " (%s)", rep.SessionName)
	}
	sb.WriteString("\n")
	if rep.SessionDir != "" {
		fmt.Fprintf(&sb, "path      %s\n", rep.SessionDir)
	}
	fmt.Fprintf(&sb, "version   %d\n", s.Version)
	fmt.Fprintf(&sb, "max tokens %d\n", s.Limits.MaxTokens)
	fmt.Fprintf(&sb, "messages  %d\n", len(s.ChatMessages))
	fmt.Fprintf(&sb, "contexts  %d\n", len(s.CodeContexts))
	for _, c := range s.CodeContexts {
		fmt.Fprintf(&sb, "  %s [%d,%d) %s\n", c.URI, c.StartLine, c.EndLine, c.LanguageID)
	}
	if len(s.Markdown) > 0 {
		fmt.Fprintf(&sb, "notes     %d\n", len(s.Markdown))
		for _, d := range s.Markdown {
			fmt.Fprintf(&sb, "  %s\n", d.Name)
		}
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(&sb, "warning: %s\n", w)
	}
	return []byte(sb.String()), nil
}

// MarkdownRenderer renders a Report as human-readable Markdown.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(rep *Report) ([]byte, error) {
	s := rep.Snapshot
	var sb strings.Builder

	name := rep.SessionName
	if name == "" {
		name = s.SessionID
	}
	fmt.Fprintf(&sb, "# snek session: %s\n\n", name)

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- ID: %s\n", s.SessionID)
	fmt.Fprintf(&sb, "- Version: %d\n", s.Version)
	fmt.Fprintf(&sb, "- Max tokens: %d\n", s.Limits.MaxTokens)
	sb.WriteString("\n")

	sb.WriteString("## Chat\n\n")
	sb.WriteString(Chat(s.ChatMessages))
	sb.WriteString("\n")

	sb.WriteString("## Code Contexts\n\n")
	if len(s.CodeContexts) == 0 {
		sb.WriteString("_No code contexts._\n")
	}
	for i, c := range s.CodeContexts {
		fmt.Fprintf(&sb, "### %d. %s (lines %d-%d)\n\n", i+1, c.URI, c.StartLine, c.EndLine)
		if c.Description != "" {
			fmt.Fprintf(&sb, "%s\n\n", c.Description)
		}
		if c.LastModified != "" {
			fmt.Fprintf(&sb, "_Last modified %s_\n\n", c.LastModified)
		}
		writeFence(&sb, c.LanguageID, c.Code)
		sb.WriteString("\n")
	}

	if len(s.Markdown) > 0 {
		sb.WriteString("## Notes\n\n")
		for _, d := range s.Markdown {
			fmt.Fprintf(&sb, "### %s\n\n%s\n\n", d.Name, strings.TrimSpace(d.Content))
		}
	}

	if len(rep.Warnings) > 0 {
		sb.WriteString("## Warnings\n\n")
		for _, w := range rep.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

// Chat renders chat messages as Markdown, one section per message.
func Chat(msgs []snapshot.ChatMessage) string {
	if len(msgs) == 0 {
		return "_No chat messages._\n"
	}
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "**%s**\n\n%s\n\n", m.Role, strings.TrimRight(m.Content, "\n"))
	}
	return sb.String()
}

func writeFence(sb *strings.Builder, lang, code string) {
	fence := "```"
	for strings.Contains(code, fence) {
		fence += "`"
	}
	sb.WriteString(fence + lang + "\n")
	sb.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(fence + "\n")
}
