package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Glacier  GlacierConfig  `mapstructure:"glacier" validate:"required"`
}

// ServerConfig contains the control API and logging settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig locates the local SQLite database holding the task queue,
// the part completion records and the inventory.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// WorkerConfig controls the worker pool.
type WorkerConfig struct {
	// Count is the number of concurrent task processes.
	Count int `mapstructure:"count" validate:"gte=1,lte=64"`

	// PollInterval is how often a running task is checked for cancellation.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// CancelRetention is how long a cancel request is remembered.
	CancelRetention time.Duration `mapstructure:"cancel_retention" validate:"gt=0"`

	// RecheckInterval wakes idle workers to notice rows added by other processes.
	RecheckInterval time.Duration `mapstructure:"recheck_interval" validate:"gt=0"`

	// TimerSlack is added to delayed task timers.
	TimerSlack time.Duration `mapstructure:"timer_slack" validate:"gte=0"`

	// Executable overrides the binary started for each task. Empty means self.
	Executable string `mapstructure:"executable"`
}

// GlacierConfig contains the remote vault service settings.
type GlacierConfig struct {
	Region          string `mapstructure:"region" validate:"required"`
	AccountID       string `mapstructure:"account_id" validate:"required"`
	AccessKeyID     string `mapstructure:"access_key_id" validate:"required_with=SecretAccessKey"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_with=AccessKeyID"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`

	// ClientID is written into inventory job descriptions for compatibility
	// with FastGlacier. A random one is used when empty.
	ClientID string `mapstructure:"client_id"`

	// ChunkSizeMB is the part size of multipart uploads and the chunk size
	// of tree hashes. It must be a power of two.
	ChunkSizeMB int `mapstructure:"chunk_size_mb" validate:"pow2,lte=4096"`

	// FastGlacierNaming encodes archive descriptions in FastGlacier's format.
	FastGlacierNaming bool `mapstructure:"fast_glacier_naming"`

	// CheckDuplicates refuses uploads whose size and tree hash already exist
	// in the inventory.
	CheckDuplicates bool `mapstructure:"check_duplicates"`
}
