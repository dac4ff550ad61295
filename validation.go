package accounting

// Struct validation for create/update inputs, using struct tags the way
// request payloads are validated elsewhere in the pack this engine draws
// from. Invoked directly by engine methods since there is no HTTP
// decoding layer in front of them here.

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator wraps a validator.Validate instance and translates its
// failures into *DomainError so callers branch on ErrValidation like any
// other domain error.
type Validator struct {
	v *validator.Validate
}

// NewValidator constructs a struct validator with the engine's default
// tag conventions.
func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// Validate checks s against its `validate:"..."` struct tags.
func (val *Validator) Validate(s interface{}) error {
	if err := val.v.Struct(s); err != nil {
		return newDomainErr(ErrValidation, "struct validation failed", fmt.Sprint(err))
	}
	return nil
}
