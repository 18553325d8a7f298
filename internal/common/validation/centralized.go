// Package validation wraps go-playground/validator with the router's custom tags and
// converts field errors into readable validation errors.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"queue-router/internal/common/errors"
)

// CentralizedValidator provides unified validation using go-playground/validator
type CentralizedValidator struct {
	validator *validator.Validate
}

// ValidationError represents a single validation error with context
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

var queueNamePattern = regexp.MustCompile(`^[^\s]+$`)

// NewCentralizedValidator creates a new centralized validator instance
func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	registerRouterValidators(v)

	// Report fields by their document keys rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &CentralizedValidator{validator: v}
}

// ValidateStruct validates a struct using struct tags
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

func (cv *CentralizedValidator) formatValidationErrors(err error) error {
	validationErrors := cv.extractValidationErrors(err)
	if len(validationErrors) == 1 {
		return errors.ValidationError(validationErrors[0].Message)
	}

	messages := make([]string, len(validationErrors))
	for i, e := range validationErrors {
		messages[i] = e.Message
	}

	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (cv *CentralizedValidator) extractValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   fieldPath(fieldError),
				Tag:     fieldError.Tag(),
				Value:   fmt.Sprintf("%v", fieldError.Value()),
				Message: cv.formatFieldError(fieldError),
				Param:   fieldError.Param(),
			})
		}
	} else {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "unknown",
			Tag:     "error",
			Message: err.Error(),
		})
	}

	return validationErrors
}

// fieldPath strips the root struct name from the namespace, e.g. "routes[0].inputQueue"
func fieldPath(err validator.FieldError) string {
	namespace := err.Namespace()
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func (cv *CentralizedValidator) formatFieldError(err validator.FieldError) string {
	field := fieldPath(err)
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "required_if":
		return fmt.Sprintf("field '%s' is required when %s", field, err.Param())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, err.Param())
	case "hostname_port":
		return fmt.Sprintf("field '%s' must be a host:port address", field)
	case "queue_name":
		return fmt.Sprintf("field '%s' must be a queue name without whitespace", field)
	case "regexp":
		return fmt.Sprintf("field '%s' must be a valid regular expression", field)
	case "broker_type":
		return fmt.Sprintf("field '%s' must be a valid broker type (rabbitmq, redis)", field)
	case "behavior":
		return fmt.Sprintf("field '%s' must be one of ALL, REMAINDER, MATCH", field)
	case "duration":
		return fmt.Sprintf("field '%s' must be a valid duration", field)
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", field, err.Tag())
	}
}

func registerRouterValidators(v *validator.Validate) {
	v.RegisterValidation("queue_name", func(fl validator.FieldLevel) bool {
		return queueNamePattern.MatchString(fl.Field().String())
	})

	v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})

	v.RegisterValidation("broker_type", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "rabbitmq", "redis":
			return true
		}
		return false
	})

	v.RegisterValidation("behavior", func(fl validator.FieldLevel) bool {
		switch strings.ToUpper(fl.Field().String()) {
		case "ALL", "REMAINDER", "MATCH":
			return true
		}
		return false
	})

	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() == reflect.Int64 {
			return fl.Field().Int() >= 0
		}
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

var globalValidator = NewCentralizedValidator()

// ValidateStruct validates a struct using the global validator instance
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}
