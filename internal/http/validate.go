package http

import (
	"github.com/go-playground/validator/v10"
)

// requestValidator adapts validator to echo.Validator.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate implements echo.Validator.
func (r *requestValidator) Validate(i interface{}) error {
	return r.v.Struct(i)
}
