// Package config loads process settings from the environment and holds the
// hot-reloadable duplication policy.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

const (
	// DefaultDataDirName is created under the user's home directory.
	DefaultDataDirName = ".dupguard"
	// PolicyFileName is the policy file looked up in the data directory.
	PolicyFileName = "policy.yaml"

	dbKeySize = 32
)

// Config holds process settings. Every field can be set from the environment.
type Config struct {
	DataDir    string `env:"DUPGUARD_DATA_DIR"`
	HTTPAddr   string `env:"DUPGUARD_HTTP_ADDR" envDefault:"127.0.0.1:8390"`
	PolicyFile string `env:"DUPGUARD_POLICY_FILE"`
	RedisURL   string `env:"DUPGUARD_REDIS_URL"`

	// DBKey is the hex SQLCipher key; unset means the generated key file.
	DBKey string `env:"DUPGUARD_DB_KEY"`

	LogFile       string `env:"DUPGUARD_LOG"`
	LogLevel      string `env:"DUPGUARD_LOG_LEVEL" envDefault:"info"`
	LogMaxSize    int    `env:"DUPGUARD_LOG_MAX_SIZE" envDefault:"50"` // megabytes
	LogMaxBackups int    `env:"DUPGUARD_LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAge     int    `env:"DUPGUARD_LOG_MAX_AGE" envDefault:"28"` // days

	PrecheckTimeout   time.Duration `env:"DUPGUARD_PRECHECK_TIMEOUT" envDefault:"2s"`
	RateLimitTimeout  time.Duration `env:"DUPGUARD_RATE_LIMIT_TIMEOUT" envDefault:"500ms"`
	ReservationTTL    time.Duration `env:"DUPGUARD_RESERVATION_TTL" envDefault:"2m"`
	JanitorInterval   time.Duration `env:"DUPGUARD_JANITOR_INTERVAL" envDefault:"1m"`
	HeartbeatInterval time.Duration `env:"DUPGUARD_HEARTBEAT_INTERVAL" envDefault:"30s"`
}

// Load parses the environment, overlaying a .env file in the working
// directory when one exists.
func Load() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		return LoadFrom(".env")
	}
	return parse()
}

// LoadFrom overlays envfile onto the environment and parses it.
func LoadFrom(envfile string) (Config, error) {
	if err := godotenv.Overload(envfile); err != nil {
		return Config{}, fmt.Errorf("failed to load %s: %w", envfile, err)
	}
	return parse()
}

func parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, DefaultDataDirName)
	}
	if cfg.PolicyFile == "" {
		cfg.PolicyFile = filepath.Join(cfg.DataDir, PolicyFileName)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.HTTPAddr == "" {
		errs = multierror.Append(errs, errors.New("DUPGUARD_HTTP_ADDR must not be empty"))
	}
	if c.DBKey != "" {
		if key, err := hex.DecodeString(c.DBKey); err != nil || len(key) != dbKeySize {
			errs = multierror.Append(errs, fmt.Errorf("DUPGUARD_DB_KEY must be %d hex characters", 2*dbKeySize))
		}
	}
	if c.PrecheckTimeout <= 0 {
		errs = multierror.Append(errs, errors.New("DUPGUARD_PRECHECK_TIMEOUT must be positive"))
	}
	if c.RateLimitTimeout <= 0 {
		errs = multierror.Append(errs, errors.New("DUPGUARD_RATE_LIMIT_TIMEOUT must be positive"))
	}
	if c.ReservationTTL <= 0 {
		errs = multierror.Append(errs, errors.New("DUPGUARD_RESERVATION_TTL must be positive"))
	}
	if c.JanitorInterval <= 0 {
		errs = multierror.Append(errs, errors.New("DUPGUARD_JANITOR_INTERVAL must be positive"))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
