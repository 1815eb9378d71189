// Package frontmatter parses and serializes the YAML metadata block at the top
// of every document.
//
// Parse is forgiving: it never fails and reports each field it had to default
// as a warning. Serialize is strict and refuses canonical fields that violate
// their constraints. Keys outside the canonical schema travel through both
// directions untouched as Extras.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Access is the visibility class of a document.
type Access string

// Access levels.
const (
	AccessAll          Access = "all"
	AccessRestricted   Access = "restricted"
	AccessSensitive    Access = "sensitive"
	AccessConfidential Access = "confidential"
)

// Valid reports whether a is one of the known access levels.
func (a Access) Valid() bool {
	switch a {
	case AccessAll, AccessRestricted, AccessSensitive, AccessConfidential:
		return true
	}
	return false
}

// Canonical keys, in serialization order.
const (
	KeyTitle     = "title"
	KeyTags      = "tags"
	KeyAccess    = "access"
	KeySensitive = "sensitive"
	KeyEncrypted = "encrypted"
	KeyUpdatedAt = "updatedAt"
	KeyVersion   = "version"
)

var canonicalKeys = []string{KeyTitle, KeyTags, KeyAccess, KeySensitive, KeyEncrypted, KeyUpdatedAt, KeyVersion}

// IsCanonical reports whether key belongs to the fixed schema.
func IsCanonical(key string) bool {
	for _, k := range canonicalKeys {
		if k == key {
			return true
		}
	}
	return false
}

// MaxTags is the largest number of tags a document may carry.
const MaxTags = 20

// DefaultTitle is used when a document has no usable title.
const DefaultTitle = "Untitled"

// TimeLayout is the on-disk form of updatedAt.
const TimeLayout = "2006-01-02T15:04:05.000Z"

const delim = "---"

// Fields is the canonical metadata of a document.
type Fields struct {
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	Access    Access    `json:"access"`
	Sensitive bool      `json:"sensitive"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

// DefaultFields returns the values Parse falls back to.
func DefaultFields() Fields {
	return Fields{
		Title:     DefaultTitle,
		Tags:      []string{},
		Access:    AccessAll,
		UpdatedAt: time.Unix(0, 0).UTC(),
		Version:   1,
	}
}

// Document is the result of parsing a raw document.
type Document struct {
	Fields   Fields
	Body     string
	Extras   Extras
	Warnings []string
}

// FormatTime renders t the way updatedAt is stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Parse splits raw into frontmatter and body and decodes the canonical
// fields. It never fails.
func Parse(raw []byte) Document {
	doc := Document{Fields: DefaultFields()}

	block, body, found := splitFrontmatter(raw)
	if !found {
		doc.Body = string(raw)
		return doc
	}

	var root yaml.Node
	if err := yaml.Unmarshal(block, &root); err != nil {
		// Invalid YAML: keep everything as body.
		doc.Body = string(raw)
		doc.warn("frontmatter is not valid YAML; ignored")
		return doc
	}
	doc.Body = body

	if len(root.Content) == 0 {
		return doc
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		doc.warn("frontmatter is not a mapping; ignored")
		return doc
	}

	for i := 0; i+1 < len(m.Content); i += 2 {
		key, val := m.Content[i].Value, m.Content[i+1]
		switch key {
		case KeyTitle:
			doc.parseTitle(val)
		case KeyTags:
			doc.parseTags(val)
		case KeyAccess:
			doc.parseAccess(val)
		case KeySensitive:
			doc.Fields.Sensitive = doc.parseBool(key, val)
		case KeyEncrypted:
			doc.Fields.Encrypted = doc.parseBool(key, val)
		case KeyUpdatedAt:
			doc.parseUpdatedAt(val)
		case KeyVersion:
			doc.parseVersion(val)
		default:
			doc.Extras.setNode(key, val)
		}
	}
	return doc
}

func (d *Document) warn(format string, args ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

func (d *Document) parseTitle(n *yaml.Node) {
	if n.Kind != yaml.ScalarNode || strings.TrimSpace(n.Value) == "" || n.Tag == "!!null" {
		d.warn("title is empty or not text; defaulted to %q", DefaultTitle)
		return
	}
	d.Fields.Title = strings.TrimSpace(n.Value)
}

func (d *Document) parseTags(n *yaml.Node) {
	if n.Tag == "!!null" {
		return
	}
	if n.Kind != yaml.SequenceNode {
		d.warn("tags is not a list; defaulted to []")
		return
	}
	raw := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.ScalarNode {
			d.warn("tags: skipped a non-text entry")
			continue
		}
		raw = append(raw, item.Value)
	}
	tags := NormalizeTags(raw)
	if len(tags) > MaxTags {
		d.warn("tags: %d entries exceed the limit of %d; truncated", len(tags), MaxTags)
		tags = tags[:MaxTags]
	}
	d.Fields.Tags = tags
}

func (d *Document) parseAccess(n *yaml.Node) {
	a := Access(strings.ToLower(strings.TrimSpace(n.Value)))
	if n.Kind != yaml.ScalarNode || !a.Valid() {
		d.warn("access: %q is not valid; defaulted to %q", n.Value, AccessAll)
		return
	}
	d.Fields.Access = a
}

func (d *Document) parseBool(key string, n *yaml.Node) bool {
	var b bool
	if n.Kind != yaml.ScalarNode || n.Tag != "!!bool" || n.Decode(&b) != nil {
		d.warn("%s: %q is not a boolean; defaulted to false", key, n.Value)
		return false
	}
	return b
}

func (d *Document) parseUpdatedAt(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(n.Value)); err == nil {
			d.Fields.UpdatedAt = t.UTC()
			return
		}
	}
	d.warn("updatedAt: %q is not an ISO-8601 timestamp; defaulted to %s", n.Value, FormatTime(d.Fields.UpdatedAt))
}

func (d *Document) parseVersion(n *yaml.Node) {
	var v int
	if n.Kind != yaml.ScalarNode || n.Tag != "!!int" || n.Decode(&v) != nil || v < 1 {
		d.warn("version: %q is not an integer >= 1; defaulted to 1", n.Value)
		return
	}
	d.Fields.Version = v
}

// NormalizeTags lowercases, trims and de-duplicates tags, keeping the first
// occurrence order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Serialize renders fields, extras and body into a raw document. Canonical
// fields are validated first; extras that reuse a canonical key are dropped.
func Serialize(fields Fields, body string, extras Extras) ([]byte, error) {
	if err := Validate(fields); err != nil {
		return nil, err
	}

	m := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, val *yaml.Node) {
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, val)
	}
	tags := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, t := range fields.Tags {
		tags.Content = append(tags.Content, strNode(t))
	}
	if len(fields.Tags) == 0 {
		tags.Style = yaml.FlowStyle
	}

	add(KeyTitle, strNode(fields.Title))
	add(KeyTags, tags)
	add(KeyAccess, strNode(string(fields.Access)))
	add(KeySensitive, boolNode(fields.Sensitive))
	add(KeyEncrypted, boolNode(fields.Encrypted))
	add(KeyUpdatedAt, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: FormatTime(fields.UpdatedAt), Style: yaml.DoubleQuotedStyle})
	add(KeyVersion, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(fields.Version)})
	for _, k := range extras.keys {
		if IsCanonical(k) {
			continue
		}
		add(k, extras.vals[k])
	}

	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("frontmatter: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("frontmatter: encode: %w", err)
	}
	buf.WriteString(delim + "\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func boolNode(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprint(b)}
}

// splitFrontmatter separates the YAML block between leading --- delimiters
// from the body. The body is returned verbatim after the closing delimiter
// line.
func splitFrontmatter(data []byte) ([]byte, string, bool) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, "", false
	}

	rest := trimmed[len(delim):]
	// The opening delimiter must be alone on its line.
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || strings.TrimSpace(string(rest[:nl])) != "" {
		return nil, "", false
	}
	rest = rest[nl+1:]

	// The block ends at the first line that is exactly the delimiter,
	// trailing whitespace aside.
	for off := 0; ; {
		line, next := rest[off:], len(rest)
		i := bytes.IndexByte(line, '\n')
		if i >= 0 {
			line, next = line[:i], off+i+1
		}
		if string(bytes.TrimRight(line, " \t\r")) == delim {
			return rest[:off], string(rest[next:]), true
		}
		if i < 0 {
			// No closing delimiter: treat everything as body.
			return nil, "", false
		}
		off = next
	}
}
