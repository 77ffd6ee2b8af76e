// Package config defines the relay configuration. Configuration is loaded
// once at process start and is immutable thereafter, following 12-Factor
// principles: values come from the OS environment (highest priority) or a
// local .env file. Any missing required value or invalid format fails the
// process immediately on startup.
package config

import (
	"time"

	"smsrelay/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration.
type SecretString = types.SecretString

// Config is the top-level configuration for the relay. Sub-components receive
// only the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"prod" validate:"required,oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Gateway Gateway
	Poller  Poller
	State   State
	Archive Archive
	Notify  Notify
	Health  Health
}

// Gateway holds device connection settings.
type Gateway struct {
	// Host is the modem address on the LAN, host or host:port.
	Host string `envconfig:"GATEWAY_HOST" default:"192.168.0.201" validate:"required"`

	// AdminPassword is the device admin password used for the token login.
	AdminPassword SecretString `envconfig:"GATEWAY_ADMIN_PASSWORD" validate:"required"`

	// Timeout bounds each HTTP attempt against the device.
	Timeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
}

// Poller holds cycle behavior tuning.
type Poller struct {
	// MaxAttempts is the total fetch attempts per cycle (first try + retries).
	MaxAttempts int `envconfig:"POLL_MAX_ATTEMPTS" default:"4" validate:"min=1"`

	// RetryBaseWait is the wait before the first retry; subsequent waits double.
	RetryBaseWait time.Duration `envconfig:"POLL_RETRY_BASE_WAIT" default:"5s"`

	// FailureThreshold is the number of consecutive failed cycles required
	// before an external alert is escalated.
	FailureThreshold int `envconfig:"POLL_FAILURE_THRESHOLD" default:"3" validate:"min=1"`

	// MaxHashes caps the processed-hash set; LowWater is the size it is
	// trimmed to once the cap is exceeded.
	MaxHashes int `envconfig:"POLL_MAX_HASHES" default:"1000" validate:"min=1"`
	LowWater  int `envconfig:"POLL_HASH_LOW_WATER" default:"500" validate:"min=1"`

	// IDResetTolerance is how far below the historical max id a batch max may
	// sit before the batch is treated as a device id reset.
	IDResetTolerance int64 `envconfig:"POLL_ID_RESET_TOLERANCE" default:"5" validate:"min=1"`
}

// State holds persistence settings.
type State struct {
	// Dir holds the state file, the rate-limit record, and the process lock.
	Dir string `envconfig:"STATE_DIR" default:"/var/lib/smsrelay" validate:"required"`

	// LockTTL is how old a lock file must be before a new invocation may
	// break it (covers crashed holders).
	LockTTL time.Duration `envconfig:"STATE_LOCK_TTL" default:"10m"`

	// ContentKey enables at-rest sealing of stored message bodies when set.
	// Base64-encoded 32-byte key; empty means plaintext storage.
	ContentKey SecretString `envconfig:"CONTENT_KEY"`
}

// Archive holds archive backend settings.
type Archive struct {
	// Backend selects the archive implementation.
	Backend string `envconfig:"ARCHIVE_BACKEND" default:"file" validate:"oneof=file postgres"`

	// Dir is the monthly JSON file directory (file backend). Defaults to the
	// state dir when empty.
	Dir string `envconfig:"ARCHIVE_DIR"`

	// DatabaseURL is required for the postgres backend.
	DatabaseURL SecretString `envconfig:"ARCHIVE_DATABASE_URL" validate:"required_if=Backend postgres"`

	// CompactAfter is the age past month-end after which closed months are
	// gzip-compacted (file backend only; 0 disables compaction).
	CompactAfter time.Duration `envconfig:"ARCHIVE_COMPACT_AFTER" default:"168h"`
}

// Notify holds notification channel settings. Channels are optional; with no
// channel configured, outcomes are logged only.
type Notify struct {
	// MinInterval is the minimum gap between alerts of the same category.
	MinInterval time.Duration `envconfig:"NOTIFY_MIN_INTERVAL" default:"300s"`

	TelegramBotToken SecretString `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string       `envconfig:"TELEGRAM_CHAT_ID" validate:"required_with=TelegramBotToken"`

	WebhookURL string `envconfig:"NOTIFY_WEBHOOK_URL" validate:"omitempty,url"`

	// SendTimeout bounds each delivery attempt, all channels.
	SendTimeout time.Duration `envconfig:"NOTIFY_SEND_TIMEOUT" default:"10s"`
}

// Health holds health evaluation settings.
type Health struct {
	// StalenessThreshold is the lastCheck age past which the relay reports
	// Degraded.
	StalenessThreshold time.Duration `envconfig:"HEALTH_STALENESS_THRESHOLD" default:"30m"`

	// Port is the healthd listen port.
	Port string `envconfig:"HEALTH_PORT" default:"8089"`

	// ActiveProbe makes the health evaluator also probe the gateway.
	ActiveProbe bool `envconfig:"HEALTH_ACTIVE_PROBE" default:"false"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure parsing environment values into their
	// target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
