package application

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// RegisterConfigValidators registers the custom tags used by Config.
func RegisterConfigValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("cronspec", validateCronSpec); err != nil {
		return fmt.Errorf("failed to register cronspec validator: %w", err)
	}
	return nil
}

// validateCronSpec accepts standard five-field schedules and descriptors
// such as "@every 5m", matching what cron.New accepts by default.
func validateCronSpec(fl validator.FieldLevel) bool {
	spec := fl.Field().String()
	if spec == "" {
		return true
	}
	_, err := cron.ParseStandard(spec)
	return err == nil
}
