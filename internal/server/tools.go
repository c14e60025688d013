package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/completion"
	"github.com/fakeyudi/snek/internal/document"
)

// OpenTool handles document_open.
type OpenTool struct {
	docs   *document.Store
	logger *zap.Logger
}

func NewOpenTool(docs *document.Store, logger *zap.Logger) *OpenTool {
	return &OpenTool{docs: docs, logger: logger}
}

func (t *OpenTool) Definition() mcp.Tool {
	return mcp.NewTool("document_open",
		mcp.WithDescription("Start tracking a document. Replaces any previously open document."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Document URI, e.g. file:///src/app.py")),
		mcp.WithString("language_id", mcp.Description("Editor language identifier, e.g. python")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Full document text")),
	)
}

func (t *OpenTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, ok := stringArg(req, "uri")
	if !ok || uri == "" {
		return mcp.NewToolResultError("uri is required"), nil
	}
	text, ok := stringArg(req, "text")
	if !ok {
		return mcp.NewToolResultError("text is required"), nil
	}
	lang, _ := stringArg(req, "language_id")

	t.docs.Open(uri, lang, text)
	t.logger.Debug("document opened", zap.String("uri", uri), zap.String("language", lang), zap.Int("bytes", len(text)))
	return mcp.NewToolResultText("opened " + uri), nil
}

// ChangeTool handles document_change.
type ChangeTool struct {
	docs   *document.Store
	logger *zap.Logger
}

func NewChangeTool(docs *document.Store, logger *zap.Logger) *ChangeTool {
	return &ChangeTool{docs: docs, logger: logger}
}

func (t *ChangeTool) Definition() mcp.Tool {
	return mcp.NewTool("document_change",
		mcp.WithDescription("Replace the text of the open document. Ignored for any other uri."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("URI of the open document")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Full new document text")),
	)
}

func (t *ChangeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, ok := stringArg(req, "uri")
	if !ok || uri == "" {
		return mcp.NewToolResultError("uri is required"), nil
	}
	text, ok := stringArg(req, "text")
	if !ok {
		return mcp.NewToolResultError("text is required"), nil
	}
	if !t.docs.Change(uri, text) {
		t.logger.Debug("change ignored", zap.String("uri", uri))
		return mcp.NewToolResultText("ignored: " + uri + " is not the open document"), nil
	}
	return mcp.NewToolResultText("updated " + uri), nil
}

// CloseTool handles document_close.
type CloseTool struct {
	docs   *document.Store
	logger *zap.Logger
}

func NewCloseTool(docs *document.Store, logger *zap.Logger) *CloseTool {
	return &CloseTool{docs: docs, logger: logger}
}

func (t *CloseTool) Definition() mcp.Tool {
	return mcp.NewTool("document_close",
		mcp.WithDescription("Stop tracking the open document. Ignored for any other uri."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("URI of the open document")),
	)
}

func (t *CloseTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, ok := stringArg(req, "uri")
	if !ok || uri == "" {
		return mcp.NewToolResultError("uri is required"), nil
	}
	if !t.docs.Close(uri) {
		return mcp.NewToolResultText("ignored: " + uri + " is not the open document"), nil
	}
	t.logger.Debug("document closed", zap.String("uri", uri))
	return mcp.NewToolResultText("closed " + uri), nil
}

// InlineTool handles inline_completion.
type InlineTool struct {
	completer Completer
	logger    *zap.Logger
}

func NewInlineTool(completer Completer, logger *zap.Logger) *InlineTool {
	return &InlineTool{completer: completer, logger: logger}
}

func (t *InlineTool) Definition() mcp.Tool {
	return mcp.NewTool("inline_completion",
		mcp.WithDescription("Return the text to insert at the cursor of the open document, "+
			"using the active snek session as context."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("URI of the open document")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Zero-based cursor line")),
		mcp.WithNumber("character", mcp.Required(), mcp.Description("Zero-based cursor column in bytes")),
		mcp.WithString("language_id", mcp.Description("Overrides the language given at document_open")),
	)
}

func (t *InlineTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, ok := stringArg(req, "uri")
	if !ok || uri == "" {
		return mcp.NewToolResultError("uri is required"), nil
	}
	line, ok := intArg(req, "line")
	if !ok || line < 0 {
		return mcp.NewToolResultError("line must be a non-negative number"), nil
	}
	character, ok := intArg(req, "character")
	if !ok || character < 0 {
		return mcp.NewToolResultError("character must be a non-negative number"), nil
	}
	lang, _ := stringArg(req, "language_id")

	text, err := t.completer.Complete(ctx, completion.Position{
		URI:        uri,
		Line:       line,
		Character:  character,
		LanguageID: lang,
	})
	if err != nil {
		var upstream *completion.UpstreamError
		switch {
		case errors.Is(err, document.ErrNotOpen):
			return mcp.NewToolResultError(fmt.Sprintf("%s is not the open document", uri)), nil
		case errors.Is(err, completion.ErrNoSnapshot):
			return mcp.NewToolResultError("no session loaded yet"), nil
		case errors.As(err, &upstream):
			return mcp.NewToolResultError("completion failed: " + upstream.Error()), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func stringArg(req mcp.CallToolRequest, key string) (string, bool) {
	v, ok := req.GetArguments()[key].(string)
	return v, ok
}

// intArg accepts JSON numbers, which decode as float64.
func intArg(req mcp.CallToolRequest, key string) (int, bool) {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
