package config

import (
	"reflect"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// Validator is implemented by configuration structs with rules beyond
// `required:"true"`. Validate runs after tag-based checks. An *sserr.Error
// is returned unchanged; any other error is wrapped with
// [sserr.CodeValidation].
//
// Example:
//
//	func (c *Config) Validate() error {
//	    if c.Margin >= c.AssertionLifetime {
//	        return sserr.Validationf("token: margin %s must be shorter than assertion lifetime %s",
//	            c.Margin, c.AssertionLifetime)
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}

	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isSSErr := sserr.AsError(err); isSSErr {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
	}
	return nil
}

// validateRequired walks the struct and reports the dotted path of the
// first `required:"true"` field still holding its zero value.
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if nested(field) {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}
