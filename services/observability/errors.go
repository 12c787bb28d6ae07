package observability

import (
	"fmt"
	"strings"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field-level failure found while validating
// an input, rather than just the first.
type ValidationError struct {
	Errors []FieldError
}

// Error implements error.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// OrNil returns e as an error, or nil when no errors were collected.
func (e *ValidationError) OrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

func validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// NotFoundError reports an absent trace, span, or scorer.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// UnavailableError reports a storage backend that is not configured or not
// reachable.
type UnavailableError struct {
	Backend string
}

// Error implements error.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is temporarily unavailable", e.Backend)
}
