// Package completion turns a cursor position into a model completion using the
// published snapshot and the cached document text.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/document"
	"github.com/fakeyudi/snek/internal/snapshot"
)

// DefaultTimeout bounds one completion call when the caller sets none.
const DefaultTimeout = 10 * time.Second

// Request is everything a Client needs for one completion.
type Request struct {
	ChatMessages []snapshot.ChatMessage
	CodeContexts []snapshot.CodeContext
	Markdown     string // joined session notes, may be empty
	Prefix       string
	Suffix       string
	Language     string
	MaxTokens    int
}

// Client generates a completion for a request. Retries and transport details
// belong to the implementation.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// UpstreamError reports a failed call to the completion provider.
type UpstreamError struct {
	Provider   string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s completion failed with status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ErrNoSnapshot is returned when a request arrives before the engine has
// published anything.
var ErrNoSnapshot = errors.New("no session snapshot published")

// Position identifies the cursor of a completion request.
type Position struct {
	URI        string
	Line       int
	Character  int
	LanguageID string // overrides the language recorded at open when set
}

// Handler answers completion requests. It reads the published snapshot once
// per request and never touches session files.
type Handler struct {
	state   *snapshot.Published
	docs    *document.Store
	client  Client
	timeout time.Duration
	logger  *zap.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithTimeout bounds each upstream call.
func WithTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(state *snapshot.Published, docs *document.Store, client Client, opts ...HandlerOption) *Handler {
	h := &Handler{
		state:   state,
		docs:    docs,
		client:  client,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Complete returns the model's continuation of the document at pos with
// leading whitespace removed. Upstream failures come back as *UpstreamError.
func (h *Handler) Complete(ctx context.Context, pos Position) (string, error) {
	split, err := h.docs.Context(pos.URI, pos.Line, pos.Character)
	if err != nil {
		return "", fmt.Errorf("%s: %w", pos.URI, err)
	}
	snap := h.state.Current()
	if snap == nil {
		return "", ErrNoSnapshot
	}

	language := pos.LanguageID
	if language == "" {
		language = split.LanguageID
	}
	req := Request{
		ChatMessages: snap.ChatMessages,
		CodeContexts: snap.CodeContexts,
		Markdown:     snap.MarkdownContext(),
		Prefix:       split.Prefix,
		Suffix:       split.Suffix,
		Language:     language,
		MaxTokens:    snap.Limits.MaxTokens,
	}

	h.logger.Debug("completion request",
		zap.String("uri", pos.URI),
		zap.Int("line", pos.Line),
		zap.Int("character", pos.Character),
		zap.String("session", snap.SessionID),
		zap.Uint64("version", snap.Version),
		zap.Int("prefix_len", len(req.Prefix)),
		zap.Int("suffix_len", len(req.Suffix)),
	)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	text, err := h.client.Complete(ctx, req)
	if err != nil {
		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			err = &UpstreamError{Provider: "model", Err: err}
		}
		h.logger.Warn("completion failed", zap.String("uri", pos.URI), zap.Error(err))
		return "", err
	}

	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	h.logger.Debug("completion generated", zap.Int("chars", len(text)), zap.Duration("elapsed", time.Since(start)))
	return text, nil
}
