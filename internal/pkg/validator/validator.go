package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Session type validation
	validate.RegisterValidation("session_type", func(fl validator.FieldLevel) bool {
		st := fl.Field().String()
		validTypes := []string{"CHAT", "VOICE_CALL", "VIDEO_CALL"}
		for _, t := range validTypes {
			if st == t {
				return true
			}
		}
		return false
	})

	// Booking outcome validation
	validate.RegisterValidation("outcome", func(fl validator.FieldLevel) bool {
		outcome := fl.Field().String()
		return outcome == "RELEASE" || outcome == "REFUND"
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "uuid":
			errors[field] = "Invalid UUID format"
		case "session_type":
			errors[field] = "Invalid session type. Must be: CHAT, VOICE_CALL, or VIDEO_CALL"
		case "outcome":
			errors[field] = "Invalid outcome. Must be: RELEASE or REFUND"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
