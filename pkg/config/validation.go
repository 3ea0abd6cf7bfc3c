package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom rules
// that cannot be expressed in tags.
//
// Log level normalization happens in ApplyDefaults, not here; validation
// accepts both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Server.RequestBurst > 0 && cfg.Server.RequestsPerSecond == 0 {
		return fmt.Errorf("server: request_burst set but requests_per_second is 0")
	}

	switch cfg.Snapshot.Type {
	case "badger":
		if path, _ := cfg.Snapshot.Badger["db_path"].(string); path == "" {
			return fmt.Errorf("snapshot.badger: db_path is required")
		}
	case "s3":
		if bucket, _ := cfg.Snapshot.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("snapshot.s3: bucket is required")
		}
		if region, _ := cfg.Snapshot.S3["region"].(string); region == "" {
			return fmt.Errorf("snapshot.s3: region is required")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly
// messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
