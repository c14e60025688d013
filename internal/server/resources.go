package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fakeyudi/snek/internal/render"
	"github.com/fakeyudi/snek/internal/session"
	"github.com/fakeyudi/snek/internal/snapshot"
)

// Resource URIs.
const (
	SnapshotURI = "snek://snapshot"
	SessionURI  = "snek://session"
)

// Resources serves read-only views of the published snapshot.
type Resources struct {
	state *snapshot.Published
	root  string
}

func NewResources(state *snapshot.Published, root string) *Resources {
	return &Resources{state: state, root: root}
}

func (r *Resources) SnapshotResource() mcp.Resource {
	return mcp.NewResource(
		SnapshotURI,
		"snek snapshot",
		mcp.WithResourceDescription("The session snapshot completions currently use"),
		mcp.WithMIMEType("application/json"),
	)
}

func (r *Resources) SessionResource() mcp.Resource {
	return mcp.NewResource(
		SessionURI,
		"snek session",
		mcp.WithResourceDescription("Human-readable summary of the active session"),
		mcp.WithMIMEType("text/markdown"),
	)
}

func (r *Resources) HandleSnapshot(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return r.handle(req.Params.URI, "application/json", &render.JSONRenderer{})
}

func (r *Resources) HandleSession(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return r.handle(req.Params.URI, "text/markdown", &render.MarkdownRenderer{})
}

func (r *Resources) handle(uri, mime string, renderer render.Renderer) ([]mcp.ResourceContents, error) {
	rep := r.report()
	if rep == nil {
		return errorResource(uri, "no session loaded yet"), nil
	}
	data, err := renderer.Render(rep)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: mime, Text: string(data)},
	}, nil
}

func (r *Resources) report() *render.Report {
	snap := r.state.Current()
	if snap == nil {
		return nil
	}
	rep := &render.Report{Snapshot: snap}
	if r.root != "" {
		dir := session.SessionDir(r.root, snap.SessionID)
		rep.SessionDir = dir
		if meta, err := session.ReadMeta(dir); err == nil {
			rep.SessionName = meta.Name
		}
	}
	return rep
}

func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "text/plain", Text: "Error: " + message},
	}
}
