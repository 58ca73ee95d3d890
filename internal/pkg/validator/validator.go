package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidate()

// Categories accepted by the try-on provider. Empty lets the provider guess.
var categories = map[string]bool{
	"upper_body": true,
	"lower_body": true,
	"dresses":    true,
	"":           true,
}

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names so details line up with the request body.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return categories[fl.Field().String()]
	})

	return v
}

// messages maps a failed tag to a client facing message; "%s" is replaced
// with the tag parameter.
var messages = map[string]string{
	"required": "This field is required",
	"min":      "Value is too short (min: %s)",
	"max":      "Value is too long (max: %s)",
	"gte":      "Value must be at least %s",
	"lte":      "Value must be at most %s",
	"url":      "Invalid URL format",
	"http_url": "Invalid URL format",
	"hexcolor": "Invalid color. Must be a hex color like #1a2b3c",
	"category": "Invalid category. Must be: upper_body, lower_body, or dresses",
}

// Validate validates a struct and returns field errors keyed by JSON name,
// or nil when s is valid.
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = "Invalid value"
		}
		out[fe.Field()] = strings.Replace(msg, "%s", fe.Param(), 1)
	}
	return out
}

// ValidateVar validates a single value against tag.
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
