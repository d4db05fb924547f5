package event

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates event inputs at the ingestion boundary.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	v := validator.New()

	v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return Type(fl.Field().String()).IsValid()
	})

	return &Validator{validate: v}
}

// Validate checks an input against the schema. A nil return means the
// input is safe to record.
func (v *Validator) Validate(in *Input) error {
	if in == nil {
		return fmt.Errorf("input is nil")
	}

	if err := v.validate.Struct(in); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid event: field %s failed %s validation", e.Field(), e.Tag())
		}
		return fmt.Errorf("invalid event: %w", err)
	}

	return nil
}
