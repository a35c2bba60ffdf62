// Package validation wraps go-playground/validator with the struct-tag rules
// used by the routing document and the router's other configuration types.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"traffic-router/internal/common/errors"
)

// FieldError represents a single validation error with context
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// Validator validates structs using struct tags
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with the router's custom tags registered
func New() *Validator {
	v := validator.New()
	registerRouterValidators(v)

	// Report field names the way they appear in YAML/JSON documents
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"yaml", "json"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	return &Validator{validate: v}
}

// Struct validates s and returns a ValidationError AppError describing every
// failed field, or nil.
func (v *Validator) Struct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return formatErrors(extractErrors(err))
	}
	return nil
}

// Var validates a single value against a tag expression
func (v *Validator) Var(field interface{}, tag string) error {
	if err := v.validate.Var(field, tag); err != nil {
		return formatErrors(extractErrors(err))
	}
	return nil
}

// Fields returns the individual field errors for s
func (v *Validator) Fields(s interface{}) []FieldError {
	if err := v.validate.Struct(s); err != nil {
		return extractErrors(err)
	}
	return nil
}

func formatErrors(fieldErrors []FieldError) error {
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func extractErrors(err error) []FieldError {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		out = append(out, FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: formatFieldError(fe),
		})
	}
	return out
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, fe.Param())
	case "hostname_port":
		return fmt.Sprintf("field '%s' must be a host:port address", field)
	case "duration":
		return fmt.Sprintf("field '%s' must be a valid duration", field)
	case "path_prefix":
		return fmt.Sprintf("field '%s' must start with '/'", field)
	case "cron_expression":
		return fmt.Sprintf("field '%s' must be a valid cron expression", field)
	case "header_name":
		return fmt.Sprintf("field '%s' must be a valid header name", field)
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", field, fe.Tag())
	}
}

func registerRouterValidators(v *validator.Validate) {
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		d, err := time.ParseDuration(s)
		return err == nil && d >= 0
	})

	_ = v.RegisterValidation("path_prefix", func(fl validator.FieldLevel) bool {
		return strings.HasPrefix(fl.Field().String(), "/")
	})

	_ = v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})

	_ = v.RegisterValidation("header_name", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if name == "" {
			return false
		}
		for _, r := range name {
			if r <= ' ' || r >= 0x7f || strings.ContainsRune("()<>@,;:\\\"/[]?={}", r) {
				return false
			}
		}
		return true
	})
}

var defaultValidator = New()

// ValidateStruct validates a struct using the shared validator instance
func ValidateStruct(s interface{}) error {
	return defaultValidator.Struct(s)
}

// ValidateVar validates a variable using the shared validator instance
func ValidateVar(field interface{}, tag string) error {
	return defaultValidator.Var(field, tag)
}
