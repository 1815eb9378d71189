package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/pagestore/internal/index"
	"github.com/starford/pagestore/internal/pageservice"
	"github.com/starford/pagestore/internal/storage"
	"github.com/starford/pagestore/internal/testutil"
)

func testServer(t *testing.T) (*Server, *pageservice.Service, storage.Provider) {
	t.Helper()
	_, store := testutil.TestStore(t)
	flat, err := index.OpenFlat(filepath.Join(t.TempDir(), "pages.json"), testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	svc := pageservice.New(pageservice.Deps{Store: store, Backend: flat, Logger: testutil.Logger()})
	t.Cleanup(svc.Close)
	return New(svc, "test"), svc, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so handlers are invoked
	// directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_pages":
		result, err = srv.searchPages(ctx, req)
	case "suggest_pages":
		result, err = srv.suggestPages(ctx, req)
	case "read_page":
		result, err = srv.readPage(ctx, req)
	case "list_pages":
		result, err = srv.listPages(ctx, req)
	case "save_page":
		result, err = srv.savePage(ctx, req)
	case "index_status":
		result, err = srv.indexStatus(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSaveAndReadPage(t *testing.T) {
	srv, _, _ := testServer(t)

	r := callTool(t, srv, "save_page", map[string]any{
		"slug":  "test-page",
		"title": "Test Page",
		"tags":  []any{"Alpha"},
		"body":  "Hello",
	})
	if r.IsError || !strings.HasPrefix(resultText(r), "saved: test-page (version 1") {
		t.Fatalf("save result = %q", resultText(r))
	}

	r = callTool(t, srv, "read_page", map[string]any{"slug": "test-page"})
	var page pageservice.Page
	if err := json.Unmarshal([]byte(resultText(r)), &page); err != nil {
		t.Fatalf("read result is not JSON: %v", err)
	}
	if page.Title != "Test Page" || page.Body != "Hello" || len(page.Tags) != 1 || page.Tags[0] != "alpha" {
		t.Errorf("page = %+v", page)
	}
}

func TestSaveInvalidSlug(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "save_page", map[string]any{"slug": "Bad Slug", "title": "x"})
	if !r.IsError {
		t.Error("expected error for invalid slug")
	}
}

func TestReadPageMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "read_page", map[string]any{"slug": "nope"})
	if !r.IsError || !strings.Contains(resultText(r), "not found") {
		t.Errorf("missing page result = %+v", r)
	}
}

func TestSearchAndSuggest(t *testing.T) {
	srv, svc, store := testServer(t)
	testutil.WritePage(t, store, "docker-setup", "Docker Setup", []string{"devops"}, "Run docker compose.")
	testutil.WritePage(t, store, "wiki-basics", "Wiki Basics", nil, "")
	if _, err := svc.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "search_pages", map[string]any{"query": "docker tag:devops"})
	var got []hit
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Slug != "docker-setup" || got[0].Source != "index" {
		t.Errorf("search = %+v", got)
	}

	r = callTool(t, srv, "suggest_pages", map[string]any{"prefix": "wik", "limit": 3})
	got = nil
	_ = json.Unmarshal([]byte(resultText(r)), &got)
	if len(got) != 1 || got[0].Slug != "wiki-basics" {
		t.Errorf("suggest = %+v", got)
	}

	if r = callTool(t, srv, "search_pages", map[string]any{}); !r.IsError {
		t.Error("search without query should fail")
	}
}

func TestListAndIndexStatus(t *testing.T) {
	srv, _, store := testServer(t)
	testutil.WritePage(t, store, "a", "A", []string{"x"}, "")
	testutil.WritePage(t, store, "b", "B", nil, "")

	r := callTool(t, srv, "list_pages", map[string]any{"tag": "x"})
	var listed struct {
		Pages []struct {
			Slug string `json:"slug"`
		} `json:"pages"`
		Total int `json:"total"`
	}
	_ = json.Unmarshal([]byte(resultText(r)), &listed)
	if listed.Total != 1 || len(listed.Pages) != 1 || listed.Pages[0].Slug != "a" {
		t.Errorf("list = %+v", listed)
	}

	r = callTool(t, srv, "index_status", map[string]any{})
	text := resultText(r)
	if !strings.Contains(text, `"reason": "missing"`) || !strings.Contains(text, `"phase": "idle"`) {
		t.Errorf("index status = %s", text)
	}
}

func TestFormatResource(t *testing.T) {
	srv, _, _ := testServer(t)
	contents, err := srv.readFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != formatURI || !strings.Contains(tc.Text, "tag:name") {
		t.Errorf("resource = %+v", contents[0])
	}
}
