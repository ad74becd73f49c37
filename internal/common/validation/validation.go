// Package validation checks API request bodies with go-playground/validator
// and turns failures into errors.ValidationError values.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"laminate/internal/common/errors"
	"laminate/internal/laminate/parser"
)

var templateNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_./-]*$`)

// Validator wraps a configured validator.Validate
type Validator struct {
	validator *validator.Validate
}

// FieldError is a single failed rule
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// New creates a Validator with the template rules registered
func New() *Validator {
	v := validator.New()
	registerTemplateValidators(v)

	// Report JSON names instead of struct field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{validator: v}
}

// Struct validates s using its struct tags
func (cv *Validator) Struct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.format(err)
	}
	return nil
}

// Var validates a single value against tag
func (cv *Validator) Var(field interface{}, tag string) error {
	if err := cv.validator.Var(field, tag); err != nil {
		return cv.format(err)
	}
	return nil
}

// Fields validates s and returns each failed rule, or nil when s is valid
func (cv *Validator) Fields(s interface{}) []FieldError {
	err := cv.validator.Struct(s)
	if err == nil {
		return nil
	}
	return cv.extract(err)
}

func (cv *Validator) format(err error) error {
	fieldErrors := cv.extract(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (cv *Validator) extract(err error) []FieldError {
	var out []FieldError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range validationErrs {
			out = append(out, FieldError{
				Field:   fe.Field(),
				Tag:     fe.Tag(),
				Value:   fmt.Sprintf("%v", fe.Value()),
				Message: message(fe),
				Param:   fe.Param(),
			})
		}
		return out
	}

	return append(out, FieldError{Field: "unknown", Tag: "error", Message: err.Error()})
}

func message(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "template_name":
		return fmt.Sprintf("field '%s' must be a template name (letters, digits, '_', '-', '.', '/')", err.Field())
	case "dialect":
		return fmt.Sprintf("field '%s' must be a template dialect (erb, mustache)", err.Field())
	case "duration":
		return fmt.Sprintf("field '%s' must be a valid duration", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

func registerTemplateValidators(v *validator.Validate) {
	// Names may contain directories but never climb out of the template root
	v.RegisterValidation("template_name", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		return templateNamePattern.MatchString(name) && !strings.Contains(name, "..")
	})

	v.RegisterValidation("dialect", func(fl validator.FieldLevel) bool {
		_, err := parser.DialectByName(fl.Field().String())
		return err == nil
	})

	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

var defaultValidator = New()

// Struct validates s with the shared Validator
func Struct(s interface{}) error {
	return defaultValidator.Struct(s)
}

// Var validates field with the shared Validator
func Var(field interface{}, tag string) error {
	return defaultValidator.Var(field, tag)
}
