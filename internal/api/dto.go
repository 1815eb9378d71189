package api

import (
	"github.com/starford/pagestore/internal/models"
	"github.com/starford/pagestore/internal/pageservice"
	"github.com/starford/pagestore/internal/search"
)

// PutPageRequest is the request body for creating or replacing a page.
type PutPageRequest = pageservice.Input

// PageDetail is the full page response type (aliased from the domain layer).
type PageDetail = pageservice.Page

// PageListItem is a lightweight item in a list response.
type PageListItem struct {
	Slug         string   `json:"slug" example:"docker-setup" validate:"required"`
	Title        string   `json:"title" example:"Docker Setup" validate:"required"`
	CategoryName string   `json:"categoryName,omitempty" example:"Operations"`
	Visibility   string   `json:"visibility" example:"all" validate:"required"`
	Encrypted    bool     `json:"encrypted"`
	Tags         []string `json:"tags" example:"devops,docker" validate:"required"`
	Excerpt      string   `json:"excerpt" example:"Install docker with the guide."`
	UpdatedAt    string   `json:"updatedAt" example:"2026-01-15T10:00:00.000Z" validate:"required"`
}

// PageListResponse wraps paginated page listings.
type PageListResponse struct {
	Pages []PageListItem `json:"pages" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single ranked hit in the API response.
type SearchResult struct {
	PageListItem
	Score  int           `json:"score" example:"20" validate:"required"`
	Source search.Source `json:"source" example:"index" validate:"required"`
}

// SearchResponse wraps search and suggest results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status  string `json:"status" example:"ok" validate:"required"`
	Index   string `json:"index,omitempty" example:"ok"`
	Rebuild string `json:"rebuild,omitempty" example:"idle"`
}

func listItem(e models.IndexEntry) PageListItem {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return PageListItem{
		Slug:         e.Slug,
		Title:        e.Title,
		CategoryName: e.CategoryName,
		Visibility:   e.Visibility,
		Encrypted:    e.Encrypted,
		Tags:         tags,
		Excerpt:      e.Excerpt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func searchResults(rs []search.Result) SearchResponse {
	out := SearchResponse{Results: make([]SearchResult, 0, len(rs))}
	for _, r := range rs {
		out.Results = append(out.Results, SearchResult{PageListItem: listItem(r.Entry), Score: r.Score, Source: r.Source})
	}
	return out
}
