// Package search parses the query syntax and ranks index entries with
// weighted substring scoring, answering from the persisted index when it is
// usable and from a live document scan otherwise.
package search

import (
	"strings"
	"unicode"

	"github.com/starford/pagestore/internal/frontmatter"
	"github.com/starford/pagestore/internal/index"
)

// Query is a parsed search expression. All values are lowercase.
type Query struct {
	Terms   []string // required; quoted phrases are one term
	Exclude []string // NOT term
	Tags    []string // tag:value
}

// Empty reports whether q has nothing to match on.
func (q Query) Empty() bool {
	return len(q.Terms) == 0 && len(q.Tags) == 0
}

// Filter converts q into a backend prefilter.
func (q Query) Filter() index.Filter {
	return index.Filter{Terms: q.Terms, Exclude: q.Exclude, Tags: q.Tags}
}

const tagPrefix = "tag:"

// ParseQuery parses bare terms, "quoted phrases", NOT term and tag:value.
// NOT is only an operator when written in capitals and unquoted.
func ParseQuery(s string) Query {
	var q Query
	toks := tokenize(s)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.text == "NOT" && !t.quoted:
			if i+1 < len(toks) {
				i++
				if v := norm(toks[i].text); v != "" {
					q.Exclude = append(q.Exclude, v)
				}
			}
		case strings.HasPrefix(strings.ToLower(t.text), tagPrefix):
			if tags := frontmatter.NormalizeTags([]string{t.text[len(tagPrefix):]}); len(tags) == 1 {
				q.Tags = append(q.Tags, tags[0])
			}
		default:
			if v := norm(t.text); v != "" {
				q.Terms = append(q.Terms, v)
			}
		}
	}
	return q
}

type token struct {
	text   string
	quoted bool
}

// tokenize splits on whitespace outside double quotes. Quotes are dropped
// and may appear mid-token, as in tag:"two words".
func tokenize(s string) []token {
	var (
		out     []token
		b       strings.Builder
		inQuote bool
		quoted  bool
		pending bool
	)
	flush := func() {
		if pending {
			out = append(out, token{text: b.String(), quoted: quoted})
		}
		b.Reset()
		quoted, pending = false, false
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			quoted, pending = true, true
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			b.WriteRune(r)
			pending = true
		}
	}
	flush()
	return out
}

func norm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
