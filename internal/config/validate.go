package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their YAML names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError is a validation failure for one field.
type FieldError struct {
	Field   string
	Message string
	Value   any
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every failed field.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:")
	for _, err := range e {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return c.validateKeys()
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	details := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, FieldError{
			// Drop the root struct name
			Field:   strings.TrimPrefix(fe.Namespace(), "ClientConfig."),
			Message: describe(fe),
			Value:   fe.Value(),
		})
	}
	return details
}

// validateKeys rejects duplicate connection keys.
func (c *ClientConfig) validateKeys() error {
	seen := make(map[string]int, len(c.Connections))
	for i, conn := range c.Connections {
		key := strings.TrimPrefix(conn.Key, "/")
		if j, ok := seen[key]; ok {
			return ValidationErrors{{
				Field:   fmt.Sprintf("connections[%d].key", i),
				Message: fmt.Sprintf("duplicates connections[%d].key", j),
				Value:   conn.Key,
			}}
		}
		seen[key] = i
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "url":
		return "must be a URL"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
