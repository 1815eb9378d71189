// Package models defines the domain types shared by the index backends and
// the query engine.
package models

// IndexEntry is a denormalized, disposable projection of a document used for
// search and listing. Entries are always rebuilt from documents and never
// edited by hand.
type IndexEntry struct {
	Slug          string   `json:"slug"`
	Title         string   `json:"title"`
	CategoryID    string   `json:"categoryId,omitempty"`
	CategoryName  string   `json:"categoryName,omitempty"`
	Visibility    string   `json:"visibility"`
	AllowedUsers  []string `json:"allowedUsers"`
	AllowedGroups []string `json:"allowedGroups"`
	Encrypted     bool     `json:"encrypted"`
	Tags          []string `json:"tags"`
	Excerpt       string   `json:"excerpt"`
	UpdatedAt     string   `json:"updatedAt"`
	UpdatedMs     int64    `json:"updatedMs"`
	Searchable    string   `json:"searchable"`
}

// IndexMeta describes a persisted index as a whole.
type IndexMeta struct {
	Version     int    `json:"version"`
	GeneratedAt string `json:"generatedAt"`
	GeneratedMs int64  `json:"-"`
	TotalPages  int    `json:"totalPages"`
}
