package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	businessTypePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)
	userIDPattern       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]{0,127}$`)
)

// validate is shared by every handler. Field names in messages use the JSON tag.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// Business types key the strategy table and metric labels
	_ = v.RegisterValidation("business_type", func(fl validator.FieldLevel) bool {
		return businessTypePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("user_id", func(fl validator.FieldLevel) bool {
		return userIDPattern.MatchString(fl.Field().String())
	})

	return v
}

// ValidateRequest validates a decoded request body and reports every failing field
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("validation failed: %w", err)
	}

	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fe.Field()+": "+formatValidationError(fe))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

// validPathUserID applies the user_id rule to a value taken from the URL
func validPathUserID(userID string) bool {
	return userIDPattern.MatchString(userID)
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_without":
		return fmt.Sprintf("is required when %s is not set", snakeCase(fe.Param()))
	case "base64":
		return "must be valid base64"
	case "url":
		return "must be a valid URL"
	case "business_type":
		return "must be a lowercase identifier of at most 64 characters"
	case "user_id":
		return "must be an identifier of at most 128 characters"
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return fmt.Sprintf("failed validation: %s", fe.Tag())
}

// snakeCase maps a Go field name to its JSON spelling, e.g. ImageURL -> image_url
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(name[i-1])
			if (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9') {
				b.WriteByte('_')
			}
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
