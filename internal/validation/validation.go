package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/leobook/leosync/internal/types"
)

// MaxLabelLength bounds a sync label. Labels end up in audit rows and
// archive object keys.
const MaxLabelLength = 64

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements error.
func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateLabelChars returns an error unless value uses only ASCII letters,
// digits, '-', '_' and '.'.
func ValidateLabelChars(field, value string) *ValidationError {
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("contains invalid character %q (allowed: letters, digits, '-', '_', '.')", r),
			}
		}
	}
	return nil
}

// ValidateLabel checks a sync run label. An empty label is valid; callers
// substitute their default.
func ValidateLabel(field, value string) []ValidationError {
	var c Collector
	if value == "" {
		return nil
	}
	if err := ValidateUTF8(field, value); err != nil {
		c.Add(err)
		return c.Errors()
	}
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, MaxLabelLength))
	if value == "." || value == ".." {
		c.Add(&ValidationError{Field: field, Message: "must not be a relative path element"})
	} else if !c.HasErrors() {
		c.Add(ValidateLabelChars(field, value))
	}
	return c.Errors()
}

// ValidateSyncRequest validates a manual sync trigger.
func ValidateSyncRequest(req types.SyncRequest) []ValidationError {
	return ValidateLabel("label", req.Label)
}
