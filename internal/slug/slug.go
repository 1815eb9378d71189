// Package slug validates document identifiers and maps them to shard
// directories.
package slug

import (
	"regexp"

	"github.com/starford/pagestore/internal/apperr"
)

// MaxLen is the longest slug accepted.
const MaxLen = 80

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,79}$`)

// Validate returns a ValidationError unless s is a canonical slug.
func Validate(s string) error {
	if s == "" {
		return apperr.Invalid("slug", "is required")
	}
	if len(s) > MaxLen {
		return apperr.Invalid("slug", "longer than %d characters", MaxLen)
	}
	if !slugRe.MatchString(s) {
		return apperr.Invalid("slug", "%q must match [a-z0-9][a-z0-9-]*", s)
	}
	return nil
}

// Shard returns the two-character bucket directory for s.
func Shard(s string) string {
	b := []byte{'_', '_'}
	for i := 0; i < len(s) && i < 2; i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b[i] = c
		}
	}
	return string(b)
}
