package config

import (
	"errors"
	"fmt"
	"path"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var sizePattern = regexp.MustCompile(`^[1-9][0-9]{0,4}x[1-9][0-9]{0,4}$`)

// Validate checks cfg using struct tags plus the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	seen := make(map[string]bool)
	for i, st := range cfg.Storage.Statuses {
		if seen[st] {
			return fmt.Errorf("storage.statuses[%d]: duplicate status %q", i, st)
		}
		seen[st] = true
	}

	for i, size := range cfg.Derivatives.Sizes {
		if !sizePattern.MatchString(size) {
			return fmt.Errorf("derivatives.sizes[%d]: %q is not WIDTHxHEIGHT", i, size)
		}
	}

	for i, pattern := range cfg.Policy.Deny {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("policy.deny[%d]: bad pattern %q: %w", i, pattern, err)
		}
	}

	names := make(map[string]bool)
	for i, s := range cfg.Snapshots {
		if s.Name == "" {
			continue
		}
		if names[s.Name] {
			return fmt.Errorf("snapshots[%d]: duplicate snapshot vault name %q", i, s.Name)
		}
		names[s.Name] = true
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
