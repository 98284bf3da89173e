package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Message
}

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]

		if name == "-" {
			return ""
		}

		return name
	})

	return &Validator{validate: v}
}

// Validate checks the validate tags of struct i.
func (v *Validator) Validate(i any) ([]ValidationError, bool) {
	return v.convert(v.validate.Struct(i), "")
}

// ValidateVar checks a single value against tag. field names the value in
// the resulting errors.
func (v *Validator) ValidateVar(field string, value any, tag string) ([]ValidationError, bool) {
	return v.convert(v.validate.Var(value, tag), field)
}

func (v *Validator) convert(err error, field string) ([]ValidationError, bool) {
	if err == nil {
		return nil, true
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []ValidationError{{
			Field:   field,
			Code:    "INVALID",
			Message: err.Error(),
		}}, false
	}

	errs := make([]ValidationError, 0, len(validationErrors))
	for _, err := range validationErrors {
		name := err.Field()
		if name == "" {
			name = field
		}

		var message string
		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", name)
		case "min":
			message = fmt.Sprintf("%s must be at least %s characters long", name, err.Param())
		case "max":
			message = fmt.Sprintf("%s must not exceed %s characters", name, err.Param())
		case "gte":
			message = fmt.Sprintf("%s must be greater than or equal to %s", name, err.Param())
		case "printascii":
			message = fmt.Sprintf("%s must contain printable ascii characters only", name)
		default:
			message = fmt.Sprintf("%s is invalid", name)
		}

		errs = append(errs, ValidationError{
			Field:   name,
			Code:    strings.ToUpper(err.Tag()),
			Message: message,
		})
	}

	return errs, false
}
