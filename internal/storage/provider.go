// Package storage persists documents as individually addressable files with
// atomic replacement and per-slug write serialization.
package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/starford/pagestore/internal/integrity"
)

// ChangeToken identifies a document revision by size and modification time.
// It is derived from a single stat and never from content.
type ChangeToken string

// TokenOf returns the change token for a stat result.
func TokenOf(info os.FileInfo) ChangeToken {
	return ChangeToken(fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano()))
}

// ReadResult is a document read together with its revision and integrity
// verdict.
type ReadResult struct {
	Content   []byte
	Token     ChangeToken
	Integrity integrity.Status
}

// Current is the state handed to an Update callback.
type Current struct {
	Content []byte
	Token   ChangeToken
	Exists  bool
}

// DocumentInfo is a stat-only listing entry.
type DocumentInfo struct {
	Slug    string
	Path    string
	Token   ChangeToken
	ModTime time.Time
}

// Provider is the interface for document file operations.
type Provider interface {
	// Read returns the document bytes, verifying its sidecar when enabled.
	Read(slug string) (ReadResult, error)
	// Write atomically replaces the document.
	Write(slug string, content []byte) (ChangeToken, error)
	// Update runs fn under the slug's write lock and writes its result.
	Update(slug string, fn func(Current) ([]byte, error)) (ChangeToken, error)
	// Delete removes the document and its sidecar.
	Delete(slug string) error
	// ChangeToken stats the document without reading it.
	ChangeToken(slug string) (ChangeToken, bool)
	// List returns every stored document.
	List() ([]DocumentInfo, error)
}
