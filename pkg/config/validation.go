package config

import (
	"reflect"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// Validator is implemented by settings structs that check themselves,
// like token.SigningConfig. Load calls it on every nested struct before
// the enclosing one. An error that is not already an *sserr.Error is
// wrapped as CONFIG_001.
type Validator interface {
	Validate() error
}

// enum is implemented by named string types with a closed value set,
// like token.Type and postgres.SSLMode.
type enum interface {
	Valid() bool
}

func validate(cfg any, rv reflect.Value, leaves []leaf) error {
	for _, lf := range leaves {
		if lf.required && lf.v.IsZero() {
			return sserr.Newf(sserr.CodeConfiguration,
				"config: required field %q is empty", lf.Path)
		}
		if lf.v.IsZero() {
			continue
		}
		if e, ok := lf.v.Interface().(enum); ok && !e.Valid() {
			return sserr.Newf(sserr.CodeConfiguration,
				"config: %s: %q is not a recognized %s", lf.Path, lf.v.String(), lf.v.Type())
		}
	}

	if err := validateNested(rv); err != nil {
		return err
	}
	return runValidator(cfg)
}

// validateNested runs Validator on nested structs, depth first.
func validateNested(rv reflect.Value) error {
	for i := range rv.NumField() {
		v := rv.Field(i)
		if !v.CanSet() || v.Kind() != reflect.Struct || decodesText(v.Type()) {
			continue
		}
		if err := validateNested(v); err != nil {
			return err
		}
		if err := runValidator(v.Addr().Interface()); err != nil {
			return err
		}
	}
	return nil
}

func runValidator(cfg any) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	err := v.Validate()
	if err == nil {
		return nil
	}
	if _, ok := sserr.AsError(err); ok {
		return err
	}
	return sserr.Wrap(err, sserr.CodeConfiguration, "config: custom validation failed")
}
