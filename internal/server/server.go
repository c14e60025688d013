// Package server exposes the document cache, inline completion and the
// published snapshot to an editor over MCP on stdio.
//
// Tool handlers follow one shape: a struct holding its dependencies,
// Definition() returning the mcp.Tool schema and Handle() serving calls.
// Failures the editor can act on come back as tool error results; only
// malformed protocol traffic is a protocol error.
package server

import (
	"context"
	"errors"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/completion"
	"github.com/fakeyudi/snek/internal/document"
	"github.com/fakeyudi/snek/internal/snapshot"
)

// Name is the MCP server name announced at initialize.
const Name = "snek"

// Version is set at build time via -ldflags.
var Version = "dev"

// Completer produces an inline completion for a cursor position.
type Completer interface {
	Complete(ctx context.Context, pos completion.Position) (string, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRoot lets the session resource include the session name and path.
func WithRoot(root string) Option {
	return func(s *Server) { s.root = root }
}

// Server wires the snek tools and resources into an MCP server.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
	root   string
}

// New registers the document tools, the completion tool and the snapshot
// resources.
func New(state *snapshot.Published, docs *document.Store, completer Completer, opts ...Option) *Server {
	s := &Server{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		Name,
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	open := NewOpenTool(docs, s.logger)
	s.mcp.AddTool(open.Definition(), open.Handle)

	change := NewChangeTool(docs, s.logger)
	s.mcp.AddTool(change.Definition(), change.Handle)

	closeTool := NewCloseTool(docs, s.logger)
	s.mcp.AddTool(closeTool.Definition(), closeTool.Handle)

	inline := NewInlineTool(completer, s.logger)
	s.mcp.AddTool(inline.Definition(), inline.Handle)

	res := NewResources(state, s.root)
	s.mcp.AddResource(res.SnapshotResource(), res.HandleSnapshot)
	s.mcp.AddResource(res.SessionResource(), res.HandleSession)

	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in/out until ctx is cancelled or in is closed.
// Cancellation is a clean shutdown and returns nil.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	s.logger.Info("mcp server listening", zap.String("name", Name), zap.String("version", Version))
	err := stdio.Listen(ctx, in, out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

const instructions = `snek supplies inline code completions grounded in a curated session of chat
messages and code contexts kept under .snek/ in the workspace.

Call document_open when a buffer gains focus, document_change with the full
text after every edit and document_close when it is closed. Only one document
is tracked at a time. inline_completion returns the text to insert at the
cursor. The snek://snapshot and snek://session resources describe the session
the completions currently use.`
