// Package validation validates configuration structs using go-playground/validator and
// converts failures into VALIDATION domain errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/revealrank/revealrank/internal/domain"
	domainerrors "github.com/revealrank/revealrank/internal/errors"
)

// IDPlaceholder is the token a URI template uses for the item ID.
const IDPlaceholder = "{id}"

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v *validator.Validate
}

// New creates a validator with the project's custom tags registered:
// "idtemplate" requires exactly one {id} placeholder, "scorekey" a known score variant.
func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"yaml", "json"} {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("idtemplate", func(fl validator.FieldLevel) bool {
		return strings.Count(fl.Field().String(), IDPlaceholder) == 1
	})
	_ = v.RegisterValidation("scorekey", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseScoreKey(fl.Field().String())
		return err == nil
	})

	return &Validator{v: v}
}

// Validate validates a struct and returns a domain error listing each failed field.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

func (v *Validator) formatError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	details := make(map[string]string, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		details[e.Field()] = friendlyMessage(e)
		names = append(names, e.Field())
	}

	msg := fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
	return domainerrors.ValidationWithDetails(msg, details)
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte", "min":
		return "must be greater than or equal to " + e.Param()
	case "lte", "max":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gtefield":
		return "must be greater than or equal to " + e.Param()
	case "idtemplate":
		return "must contain exactly one " + IDPlaceholder + " placeholder"
	case "scorekey":
		return "must be one of: rarity, rarityNormalized, rarityCount, rarityCountNormalized"
	case "dive":
		return "contains an invalid element"
	default:
		return "is invalid"
	}
}
