package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/coldstore/internal/treehash"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. COLDSTORE_SERVER_PORT.
const EnvPrefix = "COLDSTORE"

var defaults = map[string]any{
	"server.port":                 8080,
	"server.log_level":            "info",
	"database.path":               "coldstore.db",
	"worker.count":                2,
	"worker.poll_interval":        500 * time.Millisecond,
	"worker.cancel_retention":     10 * time.Minute,
	"worker.recheck_interval":     5 * time.Second,
	"worker.timer_slack":          100 * time.Millisecond,
	"worker.executable":           "",
	"glacier.region":              "us-east-1",
	"glacier.account_id":          "-",
	"glacier.access_key_id":       "",
	"glacier.secret_access_key":   "",
	"glacier.endpoint":            "",
	"glacier.client_id":           "",
	"glacier.chunk_size_mb":       16,
	"glacier.fast_glacier_naming": true,
	"glacier.check_duplicates":    true,
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := NewValidator()

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation failed: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// NewValidator returns a validator with the project's custom rules registered.
func NewValidator() *validator.Validate {
	validate := validator.New()
	// ALLOW-PANIC: registration only fails for an empty tag name
	if err := validate.RegisterValidation("pow2", isPowerOfTwo); err != nil {
		panic(err)
	}
	return validate
}

func isPowerOfTwo(fl validator.FieldLevel) bool {
	return treehash.IsPowerOfTwo(int(fl.Field().Int()))
}
