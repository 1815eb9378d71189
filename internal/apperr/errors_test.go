package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestFieldErrorsIsStable(t *testing.T) {
	err := FieldErrors(map[string]error{
		"title":  errors.New("cannot be blank"),
		"access": errors.New("must be a valid value"),
	})
	want := "validation: access: access: must be a valid value; title: cannot be blank"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if FieldErrors(nil) != nil {
		t.Error("no fields should yield nil")
	}
}

func TestIsValidationUnwraps(t *testing.T) {
	err := fmt.Errorf("save: %w", Invalid("slug", "is required"))
	if !IsValidation(err) {
		t.Error("wrapped validation error not detected")
	}
	if IsValidation(fmt.Errorf("save: %w", ErrNotFound)) {
		t.Error("sentinel reported as validation error")
	}
}
