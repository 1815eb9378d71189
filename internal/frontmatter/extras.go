package frontmatter

import (
	"slices"

	"gopkg.in/yaml.v3"
)

// Extras holds non-canonical frontmatter keys in their original order with
// their YAML values kept verbatim. The zero value is empty and ready to use.
type Extras struct {
	keys []string
	vals map[string]*yaml.Node
}

// Keys returns the keys in order.
func (e *Extras) Keys() []string {
	return slices.Clone(e.keys)
}

// Len returns the number of keys.
func (e *Extras) Len() int {
	return len(e.keys)
}

// Has reports whether key is present.
func (e *Extras) Has(key string) bool {
	_, ok := e.vals[key]
	return ok
}

// Node returns the raw YAML value for key.
func (e *Extras) Node(key string) (*yaml.Node, bool) {
	n, ok := e.vals[key]
	return n, ok
}

// String returns the value of a scalar key.
func (e *Extras) String(key string) (string, bool) {
	n, ok := e.vals[key]
	if !ok || n.Kind != yaml.ScalarNode {
		return "", false
	}
	return n.Value, true
}

// Decode decodes the value of key into v.
func (e *Extras) Decode(key string, v any) error {
	n, ok := e.vals[key]
	if !ok {
		return nil
	}
	return n.Decode(v)
}

// Set encodes v and stores it under key, keeping the key's position when it
// already exists.
func (e *Extras) Set(key string, v any) error {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return err
	}
	e.setNode(key, &n)
	return nil
}

// SetString stores a plain string value.
func (e *Extras) SetString(key, v string) {
	e.setNode(key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
}

// Delete removes key.
func (e *Extras) Delete(key string) {
	if _, ok := e.vals[key]; !ok {
		return
	}
	delete(e.vals, key)
	e.keys = slices.DeleteFunc(e.keys, func(k string) bool { return k == key })
}

// Clone returns an independent copy.
func (e *Extras) Clone() Extras {
	out := Extras{keys: slices.Clone(e.keys), vals: make(map[string]*yaml.Node, len(e.vals))}
	for k, v := range e.vals {
		out.vals[k] = cloneNode(v)
	}
	return out
}

// Map decodes every extra into plain Go values, for JSON responses.
func (e *Extras) Map() map[string]any {
	if len(e.keys) == 0 {
		return nil
	}
	out := make(map[string]any, len(e.keys))
	for _, k := range e.keys {
		var v any
		if err := e.vals[k].Decode(&v); err == nil {
			out[k] = v
		}
	}
	return out
}

func (e *Extras) setNode(key string, n *yaml.Node) {
	if e.vals == nil {
		e.vals = make(map[string]*yaml.Node)
	}
	if _, ok := e.vals[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.vals[key] = n
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	c := *n
	if len(n.Content) > 0 {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = cloneNode(child)
		}
	}
	return &c
}
