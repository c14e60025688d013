package completion

import (
	"fmt"
	"strings"

	"github.com/fakeyudi/snek/internal/snapshot"
)

// SystemPrompt opens every conversation sent to the model.
const SystemPrompt = "You are an AI code completion assistant. Generate code that naturally continues from the given prefix. Return ONLY the completion code without explanations, markdown formatting, or code fences."

// Cursor marks the insertion point in the prompt.
const Cursor = "<CURSOR>"

// BuildMessages assembles the conversation for req: the system prompt, the
// session's chat history in order, then one user message carrying the notes,
// the code contexts and the buffer split at the cursor.
func BuildMessages(req Request) []snapshot.ChatMessage {
	msgs := make([]snapshot.ChatMessage, 0, len(req.ChatMessages)+2)
	msgs = append(msgs, snapshot.ChatMessage{Role: snapshot.RoleSystem, Content: SystemPrompt})
	msgs = append(msgs, req.ChatMessages...)
	msgs = append(msgs, snapshot.ChatMessage{Role: snapshot.RoleUser, Content: buildPrompt(req)})
	return msgs
}

func buildPrompt(req Request) string {
	var b strings.Builder

	if req.Markdown != "" {
		b.WriteString("Here is some context you might need:\n\n")
		b.WriteString(req.Markdown)
		b.WriteString("\n\n---\n\n")
	}

	if len(req.CodeContexts) > 0 {
		b.WriteString("Here are some code snippets that you will need:\n\n")
		for i, c := range req.CodeContexts {
			fmt.Fprintf(&b, "Snippet %d:\n  URI: %s\n  Lines: %d-%d\n  Language: %s\n",
				i+1, c.URI, c.StartLine, c.EndLine, c.LanguageID)
			if c.Description != "" {
				fmt.Fprintf(&b, "  Description: %s\n", c.Description)
			}
			fmt.Fprintf(&b, "  Code:\n```\n%s\n```\n\n", c.Code)
		}
		b.WriteString("---\n\n")
	}

	fmt.Fprintf(&b, "Complete the following %s code. The cursor is at %s.\n\n", req.Language, Cursor)
	b.WriteString("Code before cursor:\n```\n")
	b.WriteString(req.Prefix)
	b.WriteString("\n```\n\n" + Cursor + "\n\n")

	if strings.TrimSpace(req.Suffix) != "" {
		b.WriteString("Code after cursor:\n```\n")
		b.WriteString(req.Suffix)
		b.WriteString("\n```\n\n")
	}

	b.WriteString("Generate ONLY the code that should be inserted at " + Cursor + ". Do not include any explanations or markdown formatting.")
	return b.String()
}
