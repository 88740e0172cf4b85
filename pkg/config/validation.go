package config

import (
	"reflect"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// Validator is an optional interface for configuration structs that need
// validation beyond the `required` tag. When the struct passed to
// [Loader.Load] implements Validator, Validate is called after tag-based
// validation succeeds.
type Validator interface {
	Validate() error
}

// validate runs required-tag validation and then the Validator interface
// if implemented.
func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isStructured := apierr.AsError(err); isStructured {
				return err
			}
			return apierr.Wrap(err, apierr.CodeValidation,
				"config: custom validation failed")
		}
	}

	return nil
}

// validateRequired walks the struct and fails on the first zero-valued
// field tagged `required:"true"`. The path parameter carries the dotted
// field path for error messages.
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") != "true" {
			continue
		}

		if field.IsZero() {
			return apierr.Newf(apierr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}

	return nil
}
