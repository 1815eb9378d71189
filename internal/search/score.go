package search

import (
	"slices"
	"strings"

	"github.com/starford/pagestore/internal/models"
)

// Weights are the points a single term earns per matched field.
type Weights struct {
	TitlePrefix   int
	TitleContains int
	TagPrefix     int
	TagContains   int
	Text          int
}

// Scoring tables. The live tables apply when answering from a document scan.
var (
	IndexSearch  = Weights{TitlePrefix: 12, TitleContains: 8, TagPrefix: 5, TagContains: 3, Text: 2}
	IndexSuggest = Weights{TitlePrefix: 9, TitleContains: 6, TagPrefix: 4, TagContains: 2, Text: 1}
	LiveSearch   = Weights{TitlePrefix: 10, TitleContains: 10, TagPrefix: 4, TagContains: 4, Text: 1}
	LiveSuggest  = Weights{TitlePrefix: 5, TitleContains: 5, TagPrefix: 2, TagContains: 2, Text: 1}
)

// Score rates e against q. Zero means e is not a hit: a required term is
// absent, an excluded term is present, or a tag filter fails. A query made
// only of tag filters scores every passing entry 1.
func Score(e models.IndexEntry, q Query, w Weights) int {
	title := strings.ToLower(e.Title)
	text := e.Searchable

	for _, x := range q.Exclude {
		if strings.Contains(text, x) || strings.Contains(title, x) || tagContains(e.Tags, x) {
			return 0
		}
	}
	for _, tag := range q.Tags {
		if !slices.Contains(e.Tags, tag) {
			return 0
		}
	}
	if len(q.Terms) == 0 {
		if len(q.Tags) > 0 {
			return 1
		}
		return 0
	}

	total := 0
	for _, term := range q.Terms {
		s := 0
		switch {
		case strings.HasPrefix(title, term):
			s += w.TitlePrefix
		case strings.Contains(title, term):
			s += w.TitleContains
		}
		switch {
		case tagHasPrefix(e.Tags, term):
			s += w.TagPrefix
		case tagContains(e.Tags, term):
			s += w.TagContains
		}
		if strings.Contains(text, term) {
			s += w.Text
		}
		if s == 0 {
			return 0
		}
		total += s
	}
	return total
}

func tagHasPrefix(tags []string, p string) bool {
	for _, x := range tags {
		if strings.HasPrefix(x, p) {
			return true
		}
	}
	return false
}

func tagContains(tags []string, s string) bool {
	for _, x := range tags {
		if strings.Contains(x, s) {
			return true
		}
	}
	return false
}
