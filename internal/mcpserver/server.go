// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes page search and retrieval tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/pagestore/internal/apperr"
	"github.com/starford/pagestore/internal/pageservice"
	"github.com/starford/pagestore/internal/search"
)

const formatURI = "pagestore://page-format"

// Server wraps the MCP server with pagestore tools.
type Server struct {
	mcp *server.MCPServer
	svc *pageservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *pageservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"pagestore",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_pages",
		mcp.WithDescription("Ranked search over page titles, tags and bodies. "+
			"Supports \"phrases\", NOT term and tag:name filters."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 50, max 200)")),
	), s.searchPages)

	s.mcp.AddTool(mcp.NewTool("suggest_pages",
		mcp.WithDescription("Type-ahead suggestions for a title or tag prefix."),
		mcp.WithString("prefix", mcp.Required(), mcp.Description("At least two characters")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 8, max 15)")),
	), s.suggestPages)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read a page: metadata, body and content state."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Page slug (e.g. docker-setup)")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List pages newest first, optionally filtered by tag."),
		mcp.WithString("tag", mcp.Description("Optional tag filter")),
		mcp.WithNumber("limit", mcp.Description("Maximum pages (0 for all)")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("save_page",
		mcp.WithDescription("Create or replace a page. Read the format via the "+
			formatURI+" resource first."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Page slug")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Page title")),
		mcp.WithArray("tags", mcp.Description("Tags"), mcp.WithStringItems()),
		mcp.WithString("body", mcp.Description("Markdown body")),
		mcp.WithString("etag", mcp.Description("Change token of the revision being replaced")),
	), s.savePage)

	s.mcp.AddTool(mcp.NewTool("index_status",
		mcp.WithDescription("Report index consistency and rebuild progress."),
	), s.indexStatus)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Page Format",
			mcp.WithResourceDescription("On-disk page format and search syntax."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

type hit struct {
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	Tags    []string      `json:"tags"`
	Excerpt string        `json:"excerpt,omitempty"`
	Score   int           `json:"score"`
	Source  search.Source `json:"source"`
}

func hits(rs []search.Result) []hit {
	out := make([]hit, 0, len(rs))
	for _, r := range rs {
		out = append(out, hit{Slug: r.Entry.Slug, Title: r.Entry.Title, Tags: r.Entry.Tags, Excerpt: r.Entry.Excerpt, Score: r.Score, Source: r.Source})
	}
	return out
}

func (s *Server) searchPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(hits(results))
}

func (s *Server) suggestPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix, err := req.RequireString("prefix")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Suggest(ctx, prefix, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(hits(results))
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.svc.Get(ctx, slug)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", slug)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(page)
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, total, err := s.svc.List(ctx, req.GetString("tag", ""), req.GetInt("limit", 0), 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	type item struct {
		Slug      string   `json:"slug"`
		Title     string   `json:"title"`
		Tags      []string `json:"tags"`
		UpdatedAt string   `json:"updatedAt"`
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		items = append(items, item{Slug: e.Slug, Title: e.Title, Tags: e.Tags, UpdatedAt: e.UpdatedAt})
	}
	return jsonResult(map[string]any{"pages": items, "total": total})
}

func (s *Server) savePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := pageservice.Input{
		Title: title,
		Tags:  req.GetStringSlice("tags", nil),
		Body:  req.GetString("body", ""),
	}
	page, err := s.svc.Save(ctx, slug, in, req.GetString("etag", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s (version %d, etag %s)", page.Slug, page.Version, page.ETag)), nil
}

func (s *Server) indexStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"check":   s.svc.Check(ctx),
		"rebuild": s.svc.RebuildStatus(),
	})
}

func (s *Server) readFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}
