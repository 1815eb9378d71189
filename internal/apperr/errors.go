// Package apperr defines the error taxonomy shared by the storage engine and
// its callers.
package apperr

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrIntegrityMismatch is returned by reads in strict integrity mode when
	// the sidecar digest does not match the document bytes.
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	ErrEncryptionUnavailable = errors.New("encryption unavailable: no key configured")
	ErrDecryptionFailed      = errors.New("decryption failed")

	// ErrIndexUnavailable means the persisted index is missing, stale or
	// corrupt. Callers fall back to a live scan.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrStorageCorruption marks an unreadable embedded-engine image.
	ErrStorageCorruption = errors.New("storage corruption")

	ErrRebuildRunning = errors.New("rebuild already running")
)

// ValidationError reports caller input that violates a constraint. It is
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// FieldErrors converts a map of per-field problems (as produced by
// ozzo-validation) into a single ValidationError with a stable message.
func FieldErrors(fields map[string]error) *ValidationError {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+fields[name].Error())
	}
	return &ValidationError{Field: names[0], Reason: strings.Join(parts, "; ")}
}
