package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/sccached/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			ListenAddr:    "127.0.0.1:4226",
			IdleTimeoutMs: 600_000,
			GraceWindowMs: 1_000,
			Workers:       20,
		},
		Storage: config.StorageConfig{
			Backend: "memory",
			MaxSize: "10G",
		},
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_RejectsNonLoopback(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.ListenAddr = "0.0.0.0:4226"

	assert.ErrorIs(t, cfg.Validate(), config.ErrNonLoopbackListen)
}

func TestConfig_Validate_AllowsLocalhostHostname(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.ListenAddr = "localhost:4226"

	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_RejectsNegativeIdleTimeout(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.IdleTimeoutMs = -1

	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidIdleTimeout)
}

func TestConfig_Validate_RejectsZeroWorkers(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.Workers = 0

	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidWorkers)
}

func TestConfig_Validate_RejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Storage.Backend = "redis"

	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidBackend)
}

func TestConfig_Validate_DiskBackendRequiresDir(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Storage.Backend = "disk"

	assert.ErrorIs(t, cfg.Validate(), config.ErrMissingDiskDir)

	cfg.Storage.Disk.Dir = "/var/cache/sccached"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_S3BackendRequiresBucket(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Storage.Backend = "s3"

	assert.ErrorIs(t, cfg.Validate(), config.ErrMissingS3Bucket)

	cfg.Storage.S3.Bucket = "sccache-artifacts"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_RejectsBadMaxSize(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Storage.MaxSize = "not-a-size"

	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidMaxSize)
}
