// Package config provides configuration loading and validation from
// environment variables, with optional .env file support.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string        // debug, info, warn, error
	ListenAddr        string        // API listen address (e.g., ":8080")
	MetricsListenAddr string        // Metrics listener address (e.g., "localhost:9090")
	DatabasePath      string        // SQLite database path
	EncryptionKey     []byte        // 32-byte key for bot secret encryption (hex in env)
	BootstrapAdminKey string        // Optional: admin key created on first start
	ProbeURL          string        // Bot liveness URL template containing {secret}
	ProbeTimeout      time.Duration // Per-probe timeout
	RefreshInterval   time.Duration // Bot registry refresh interval
	SweepInterval     time.Duration // Expired token purge interval
	SupersedeTokens   bool          // Replace an active token on reissue instead of rejecting
}

// Load parses configuration from the environment. A .env file in the
// working directory is read first, if present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", "localhost:9090"),
		DatabasePath:      getEnv("DATABASE_PATH", "/data/authgate.db"),
		BootstrapAdminKey: os.Getenv("ADMIN_KEY"),
		ProbeURL:          os.Getenv("BOT_PROBE_URL"),
	}

	keyHex := os.Getenv("ENCRYPTION_KEY")
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be hex: %w", err)
		}
		cfg.EncryptionKey = key
	}

	var err error
	if cfg.ProbeTimeout, err = getDuration("PROBE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getDuration("REFRESH_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}

	if v := os.Getenv("SUPERSEDE_ACTIVE_TOKENS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("SUPERSEDE_ACTIVE_TOKENS must be a boolean: %w", err)
		}
		cfg.SupersedeTokens = b
	}

	return cfg, nil
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY environment variable is required and must decode to 32 bytes")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", name, err)
	}
	return d, nil
}
