// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent; never overrides
//     existing environment variables).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"smsrelay/internal/codec"
	"smsrelay/internal/types"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the relay configuration from the environment
// and an optional .env file.
func LoadConfig() (*Config, error) {
	// Enforce UTC to keep archive month boundaries and staleness math stable.
	time.Local = time.UTC

	// Non-fatal if absent; does not override existing env vars.
	_ = godotenv.Load()

	// The empty prefix means envconfig uses the exact tag values
	// (envconfig:"APP_ENV" reads APP_ENV directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the populated struct against its validation tags plus the
// cross-field rules validator tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if cfg.Poller.LowWater > cfg.Poller.MaxHashes {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "POLL_HASH_LOW_WATER must not exceed POLL_MAX_HASHES",
		}
	}

	if cfg.State.ContentKey != "" {
		if _, err := cfg.ContentCodec(); err != nil {
			return &ConfigError{
				Type:    ErrValidation,
				Message: "CONTENT_KEY is not a valid base64-encoded 32-byte key",
				Err:     err,
			}
		}
	}

	return nil
}

// ContentCodec builds the storage-boundary codec from State.ContentKey:
// the sealed AEAD codec when a key is configured, the identity codec otherwise.
func (c *Config) ContentCodec() (codec.Codec, error) {
	raw := c.State.ContentKey.Unmask()
	if raw == "" {
		return codec.PlainCodec{}, nil
	}

	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid, "content key is not valid base64", err)
	}
	return codec.NewAEADCodec(key)
}

// ArchiveDir resolves the monthly archive directory, defaulting to the state
// directory so a single-volume deployment needs no extra setting.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return c.State.Dir
}
