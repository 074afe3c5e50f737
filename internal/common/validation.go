package common

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidationError reports one failed rule on one request field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationRule checks one field value; nil means the value passed.
type ValidationRule func(fieldName string, value interface{}) *ValidationError

// Validator accumulates rule failures across the fields of a request so
// the caller can report them all at once.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Field runs the given rules against one value.
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// ErrorMessage joins all collected failures into one line.
func (v *Validator) ErrorMessage() string {
	if len(v.errors) == 0 {
		return ""
	}
	parts := make([]string, len(v.errors))
	for i, err := range v.errors {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// stringValue unwraps string and *string values; a nil *string reads as
// empty so Required treats it like a missing value.
func stringValue(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case *string:
		if s == nil {
			return "", true
		}
		return *s, true
	}
	return "", false
}

// Required fails on nil and on blank strings. Non-string values only
// need to be present.
func Required(fieldName string, value interface{}) *ValidationError {
	if value == nil {
		return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	}
	if s, ok := stringValue(value); ok && strings.TrimSpace(s) == "" {
		return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	}
	return nil
}

// UUID fails unless the value is a string in canonical UUID form.
func UUID(fieldName string, value interface{}) *ValidationError {
	s, ok := value.(string)
	if !ok {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be a string"}
	}
	if _, err := uuid.Parse(s); err != nil {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be a valid UUID"}
	}
	return nil
}

// ValidateAndReturnError converts collected failures into an
// InvalidArgument status for gRPC handlers.
func ValidateAndReturnError(validator *Validator) error {
	if validator.HasErrors() {
		return InvalidArgumentError(validator.ErrorMessage())
	}
	return nil
}
