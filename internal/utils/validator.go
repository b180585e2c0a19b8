package utils

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"vidmatch/internal/models"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate

	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)
)

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	validate.RegisterValidation("username", validateIdentifier)
	validate.RegisterValidation("room_name", validateIdentifier)
	validate.RegisterValidation("priority", validatePriority)
}

// ValidationError represents validation error details
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidateStruct validates a struct and returns user-friendly error messages
func ValidateStruct(s interface{}) []ValidationError {
	var out []ValidationError

	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Field: "body", Tag: "invalid", Message: err.Error()}}
	}
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Tag:     fe.Tag(),
			Value:   fe.Param(),
			Message: getErrorMessage(fe),
		})
	}
	return out
}

// ValidationDetails flattens validation errors for ErrorResponseWithDetails.
func ValidationDetails(errs []ValidationError) map[string]string {
	details := make(map[string]string, len(errs))
	for _, e := range errs {
		details[e.Field] = e.Message
	}
	return details
}

// ValidateIdentifier reports whether s is a usable username or room name.
func ValidateIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return ValidateIdentifier(fl.Field().String())
}

func validatePriority(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == "" || models.PriorityState(v).Valid()
}

func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "username":
		return "Username must be 1-64 characters of letters, numbers, '.', '_' or '-'"
	case "room_name":
		return "Room name must be 1-64 characters of letters, numbers, '.', '_' or '-'"
	case "priority":
		return "Priority must be waiting or in_call"
	default:
		return "This field is invalid"
	}
}
