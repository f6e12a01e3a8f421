package profile

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// validatorInstance configures and returns the shared validator used across
// the profile package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("profile_name", func(fl validator.FieldLevel) bool {
			return namePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("component_name", func(fl validator.FieldLevel) bool {
			return namePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("subscription_url", func(fl validator.FieldLevel) bool {
			raw := fl.Field().String()
			if raw == "" {
				return true
			}
			if strings.TrimSpace(raw) == "" {
				return false
			}
			parsed, err := url.Parse(raw)
			if err != nil {
				return false
			}
			switch strings.ToLower(parsed.Scheme) {
			case "http", "https":
				return parsed.Host != ""
			case "file", "":
				return true
			}
			return false
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator exposes the configured validator for use outside the package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}
