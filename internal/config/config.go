package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VAULTSTORE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Store        StoreConfig       `yaml:"store"`
	Cache        CacheConfig       `yaml:"cache"`
	Security     SecurityConfig    `yaml:"security"`
	Locking      LockingConfig     `yaml:"locking"`
	Transactions TransactionConfig `yaml:"transactions"`
	Monitoring   MonitoringConfig  `yaml:"monitoring"`
	Journal      JournalConfig     `yaml:"journal"`
	Logging      utils.LogConfig   `yaml:"logging"`
}

// StoreConfig selects where content and the metadata snapshot live.
type StoreConfig struct {
	// Root holds metadata.json and, for the local backend, the content files.
	Root    string   `yaml:"root" validate:"required"`
	Backend string   `yaml:"backend" validate:"oneof=local s3"`
	S3      S3Config `yaml:"s3"`
}

// S3Config represents S3 backend configuration
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	MaxRetries      int    `yaml:"max_retries" validate:"gte=0"`
	StorageClass    string `yaml:"storage_class" validate:"omitempty,oneof=STANDARD STANDARD_IA ONEZONE_IA INTELLIGENT_TIERING GLACIER_IR"`

	// BreakerTimeout is how long the backend is refused after repeated failures.
	BreakerTimeout time.Duration `yaml:"breaker_timeout" validate:"gte=0"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Capacity    int           `yaml:"capacity" validate:"gt=0"`
	TTL         time.Duration `yaml:"ttl" validate:"gt=0"`
	Compression bool          `yaml:"compression"`
}

// SecurityConfig represents session, lockout and rate limit settings
type SecurityConfig struct {
	SessionTTL        time.Duration `yaml:"session_ttl" validate:"gt=0"`
	MaxFailedAttempts int           `yaml:"max_failed_attempts" validate:"gt=0"`
	LockoutWindow     time.Duration `yaml:"lockout_window" validate:"gt=0"`
	RateLimit         int           `yaml:"rate_limit" validate:"gt=0"`
	RateWindow        time.Duration `yaml:"rate_window" validate:"gt=0"`
}

// LockingConfig represents per-file conflict lock settings
type LockingConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gt=0"`
}

// TransactionConfig represents transaction bookkeeping settings
type TransactionConfig struct {
	// MaxHistory bounds the completed archive; 0 keeps every transaction.
	MaxHistory int `yaml:"max_history" validate:"gte=0"`
}

// MonitoringConfig represents alerting thresholds and metrics export
type MonitoringConfig struct {
	MaxFailedOperations uint64  `yaml:"max_failed_operations"`
	MinCacheHitRate     float64 `yaml:"min_cache_hit_rate" validate:"gte=0,lte=1"`
	Namespace           string  `yaml:"namespace" validate:"required"`
	MetricsAddr         string  `yaml:"metrics_addr"`
}

// JournalConfig represents the optional durable journal
type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Store: StoreConfig{
			Root:    "/var/lib/vaultstore",
			Backend: "local",
			S3: S3Config{
				Region:         "us-east-1",
				MaxRetries:     3,
				BreakerTimeout: 30 * time.Second,
			},
		},
		Cache: CacheConfig{
			Capacity:    1000,
			TTL:         time.Hour,
			Compression: true,
		},
		Security: SecurityConfig{
			SessionTTL:        24 * time.Hour,
			MaxFailedAttempts: 5,
			LockoutWindow:     30 * time.Minute,
			RateLimit:         100,
			RateWindow:        60 * time.Second,
		},
		Locking: LockingConfig{
			LockTimeout: 30 * time.Minute,
		},
		Monitoring: MonitoringConfig{
			MaxFailedOperations: 0,
			MinCacheHitRate:     0,
			Namespace:           "vaultstore",
		},
		Logging: utils.LogConfig{
			Level:  "INFO",
			Format: "console",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to parse config file").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv(EnvPrefix + "ROOT"); val != "" {
		c.Store.Root = val
	}
	if val := os.Getenv(EnvPrefix + "BACKEND"); val != "" {
		c.Store.Backend = strings.ToLower(val)
	}
	if val := os.Getenv(EnvPrefix + "S3_BUCKET"); val != "" {
		c.Store.S3.Bucket = val
	}
	if val := os.Getenv(EnvPrefix + "S3_ENDPOINT"); val != "" {
		c.Store.S3.Endpoint = val
	}
	if val := os.Getenv(EnvPrefix + "S3_REGION"); val != "" {
		c.Store.S3.Region = val
	}

	if val := os.Getenv(EnvPrefix + "CACHE_CAPACITY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid "+EnvPrefix+"CACHE_CAPACITY")
		}
		c.Cache.Capacity = n
	}
	if val := os.Getenv(EnvPrefix + "CACHE_TTL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid "+EnvPrefix+"CACHE_TTL")
		}
		c.Cache.TTL = d
	}
	if val := os.Getenv(EnvPrefix + "CACHE_COMPRESSION"); val != "" {
		c.Cache.Compression = strings.ToLower(val) == "true"
	}

	if val := os.Getenv(EnvPrefix + "JOURNAL_DIR"); val != "" {
		c.Journal.Enabled = true
		c.Journal.Directory = val
	}

	if val := os.Getenv(EnvPrefix + "LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_FILE"); val != "" {
		c.Logging.File = val
	}
	if val := os.Getenv(EnvPrefix + "METRICS_ADDR"); val != "" {
		c.Monitoring.MetricsAddr = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// JournalDir returns the journal directory, defaulting to <root>/journal.
func (c *Configuration) JournalDir() string {
	if c.Journal.Directory != "" {
		return c.Journal.Directory
	}
	return filepath.Join(c.Store.Root, "journal")
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var msgs []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			msgs = append(msgs, err.Error())
		}
		return errors.New(errors.ErrCodeConfigValidation, strings.Join(msgs, "; "))
	}

	if c.Store.Backend == "s3" && c.Store.S3.Bucket == "" {
		return errors.New(errors.ErrCodeConfigValidation, "store.s3.bucket is required when store.backend is s3")
	}

	return nil
}
