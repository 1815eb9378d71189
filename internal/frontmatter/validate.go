package frontmatter

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pagestore/internal/apperr"
)

var tagRe = regexp.MustCompile(`^[^A-Z\s][^A-Z]*$`)

// Validate checks the canonical fields against the schema and returns an
// *apperr.ValidationError describing every violation.
func Validate(f Fields) error {
	err := validation.ValidateStruct(&f,
		validation.Field(&f.Title, validation.Required, validation.By(notBlank)),
		validation.Field(&f.Tags,
			validation.NotNil,
			validation.Length(0, MaxTags),
			validation.By(uniqueTags),
			validation.Each(validation.Required, validation.By(notBlank), validation.Match(tagRe).Error("must be lowercase")),
		),
		validation.Field(&f.Access, validation.Required, validation.In(AccessAll, AccessRestricted, AccessSensitive, AccessConfidential)),
		validation.Field(&f.UpdatedAt, validation.Required),
		validation.Field(&f.Version, validation.Required, validation.Min(1)),
	)
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		return apperr.FieldErrors(fieldErrs)
	}
	return err
}

func notBlank(v any) error {
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return errors.New("must not be blank")
	}
	return nil
}

func uniqueTags(v any) error {
	tags, _ := v.([]string)
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if _, dup := seen[t]; dup {
			return errors.New("must not contain duplicates")
		}
		seen[t] = struct{}{}
	}
	return nil
}
