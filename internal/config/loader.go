package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/sccached/internal/sizeunit"
)

// Default values, mirroring spec.md §4.G / §5's stated defaults.
const (
	DefaultListenAddr      = "127.0.0.1:4226"
	DefaultIdleTimeoutMs   = 600_000
	DefaultGraceWindowMs   = 1_000
	DefaultWorkers         = 20
	DefaultStorageBackend  = "memory"
	DefaultStorageMaxSize  = "10G"
	DefaultDiagnosticsAddr = "127.0.0.1:4227"
)

// configName is the config file name without extension.
const configName = ".sccached"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for sccached settings,
// matching spec.md §6's SCCACHE_* environment surface.
const envPrefix = "SCCACHE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Load loads configuration from file, env vars, and defaults, the same
// Viper-backed shape as the teacher's internal/config.LoadConfig. If
// configPath is non-empty it is used as the explicit config file path, and
// a failure to read it is an error; otherwise the file is searched in the
// current directory only, and its absence is not an error — defaults and
// env vars still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}

	readErr := v.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", readErr)
		}
	}

	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// SCCACHE_RECACHE's wire contract is "any value forces recache" (spec.md
	// §6), not a boolean parse, so presence is checked directly rather than
	// through Viper's bool coercion.
	if _, present := os.LookupEnv(envPrefix + "_RECACHE"); present {
		cfg.Server.Recache = true
	}

	// SCCACHE_STARTUP_NOTIFY is read under its own name; Viper's key
	// replacer would otherwise only look up SCCACHE_SERVER_STARTUP_NOTIFY.
	if path, present := os.LookupEnv(envPrefix + "_STARTUP_NOTIFY"); present {
		cfg.Server.StartupNotify = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", DefaultListenAddr)
	v.SetDefault("server.idle_timeout_ms", DefaultIdleTimeoutMs)
	v.SetDefault("server.grace_window_ms", DefaultGraceWindowMs)
	v.SetDefault("server.workers", DefaultWorkers)
	v.SetDefault("server.startup_notify", "")
	v.SetDefault("server.recache", false)
	v.SetDefault("server.diagnostics_addr", DefaultDiagnosticsAddr)

	v.SetDefault("storage.backend", DefaultStorageBackend)
	v.SetDefault("storage.max_size", DefaultStorageMaxSize)
	v.SetDefault("storage.disk.dir", "")
	v.SetDefault("storage.s3.use_ssl", true)
}

// parseMaxSize parses Storage.MaxSize via internal/sizeunit, used by
// Validate to reject unparseable size strings early rather than at backend
// construction time.
func parseMaxSize(s string) (int64, error) {
	return sizeunit.Parse(s)
}

// isLoopbackAddr reports whether addr's host resolves to a loopback
// address, enforcing spec.md §6's "non-loopback binds are rejected by
// policy" rule.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}
