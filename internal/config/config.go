// Package config defines sccached's daemon configuration: listener,
// lifecycle timeouts, worker pool size, and storage backend selection,
// loaded the same env/flag/default way as the teacher's own
// internal/config package (mapstructure tags, Viper-backed Load, a
// Validate pass returning sentinel errors).
package config

import "errors"

// Config is the top-level sccached daemon configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
}

// ServerConfig holds listener and lifecycle knobs (spec.md §4.G, §6).
type ServerConfig struct {
	// ListenAddr is the loopback TCP address to bind, e.g. "127.0.0.1:4226".
	// Non-loopback addresses are rejected by Validate (spec.md §6's
	// "trusts peer identity via local-only addressing" policy).
	ListenAddr string `mapstructure:"listen_addr"`

	// IdleTimeoutMs is the inactivity deadline in milliseconds
	// (spec.md §4.G default 600000).
	IdleTimeoutMs int `mapstructure:"idle_timeout_ms"`

	// GraceWindowMs bounds how long in-flight work may drain after
	// shutdown before the process exits (spec.md §4.G default 1000).
	GraceWindowMs int `mapstructure:"grace_window_ms"`

	// Workers bounds the CPU-bound worker pool size (spec.md §5 default 20).
	Workers int `mapstructure:"workers"`

	// StartupNotify is the local IPC endpoint path written to once after
	// bind, mirroring SCCACHE_STARTUP_NOTIFY (spec.md §6). Empty disables it.
	StartupNotify string `mapstructure:"startup_notify"`

	// Recache forces every compile to bypass cache reads but still
	// populate the cache, mirroring SCCACHE_RECACHE (spec.md §6).
	Recache bool `mapstructure:"recache"`

	// DiagnosticsAddr is the loopback HTTP address serving /healthz,
	// /readyz, and /metrics (internal/observability.DiagnosticsServer).
	// Empty disables it.
	DiagnosticsAddr string `mapstructure:"diagnostics_addr"`
}

// StorageConfig selects and configures one cache backend. Exactly one of
// the backend-specific sub-configs is consulted, selected by Backend.
type StorageConfig struct {
	// Backend is one of "memory", "disk", "s3".
	Backend string `mapstructure:"backend"`

	// MaxSize is a human size string ("10G", "512M") parsed by
	// internal/sizeunit, applied to whichever backend is selected.
	MaxSize string `mapstructure:"max_size"`

	Disk DiskStorageConfig `mapstructure:"disk"`
	S3   S3StorageConfig   `mapstructure:"s3"`
}

// DiskStorageConfig configures the local on-disk LRU backend.
type DiskStorageConfig struct {
	Dir string `mapstructure:"dir"`
}

// S3StorageConfig configures the remote object-store backend.
type S3StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// Sentinel validation errors.
var (
	ErrNonLoopbackListen  = errors.New("config: server.listen_addr must be a loopback address")
	ErrInvalidIdleTimeout = errors.New("config: server.idle_timeout_ms must be non-negative")
	ErrInvalidGraceWindow = errors.New("config: server.grace_window_ms must be non-negative")
	ErrInvalidWorkers     = errors.New("config: server.workers must be positive")
	ErrInvalidBackend     = errors.New("config: storage.backend must be one of memory, disk, s3")
	ErrInvalidMaxSize     = errors.New("config: storage.max_size is not a valid size string")
	ErrMissingDiskDir     = errors.New("config: storage.disk.dir is required for the disk backend")
	ErrMissingS3Bucket    = errors.New("config: storage.s3.bucket is required for the s3 backend")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	return c.validateStorage()
}

func (c *Config) validateServer() error {
	if !isLoopbackAddr(c.Server.ListenAddr) {
		return ErrNonLoopbackListen
	}

	if c.Server.IdleTimeoutMs < 0 {
		return ErrInvalidIdleTimeout
	}

	if c.Server.GraceWindowMs < 0 {
		return ErrInvalidGraceWindow
	}

	if c.Server.Workers <= 0 {
		return ErrInvalidWorkers
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "memory":
	case "disk":
		if c.Storage.Disk.Dir == "" {
			return ErrMissingDiskDir
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return ErrMissingS3Bucket
		}
	default:
		return ErrInvalidBackend
	}

	if _, err := parseMaxSize(c.Storage.MaxSize); err != nil {
		return ErrInvalidMaxSize
	}

	return nil
}
