// Package config loads the file store server configuration and builds a
// filestore.Service from it.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tendant/simple-filestore/pkg/filestore"
)

// Metadata backend kinds selected by MetadataURL.
const (
	MetadataMemory   = "memory"
	MetadataPostgres = "postgres"
	MetadataBadger   = "badger"
	MetadataSQLite   = "sqlite"
)

// Blob backend kinds selected by StorageURL.
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
)

// ServerConfig represents server configuration.
type ServerConfig struct {
	Port        string `yaml:"port" json:"port" toml:"port" env:"PORT" validate:"required"`
	Environment string `yaml:"environment" json:"environment" toml:"environment" env:"ENVIRONMENT"`

	// Backends
	MetadataURL string `yaml:"metadata_url" json:"metadata_url" toml:"metadata_url" env:"METADATA_URL" validate:"required"`
	StorageURL  string `yaml:"storage_url" json:"storage_url" toml:"storage_url" env:"STORAGE_URL" validate:"required"`
	AutoMigrate bool   `yaml:"auto_migrate" json:"auto_migrate" toml:"auto_migrate" env:"AUTO_MIGRATE"`

	// Blob layout
	HashAlgorithm string `yaml:"hash_algorithm" json:"hash_algorithm" toml:"hash_algorithm" env:"HASH_ALGORITHM" validate:"oneof=sha256 md5"`
	ShardDepth    int    `yaml:"shard_depth" json:"shard_depth" toml:"shard_depth" env:"SHARD_DEPTH" validate:"gte=1,lte=8"`
	ShardWidth    int    `yaml:"shard_width" json:"shard_width" toml:"shard_width" env:"SHARD_WIDTH" validate:"gte=1,lte=8"`
	TempDir       string `yaml:"temp_dir" json:"temp_dir" toml:"temp_dir" env:"TEMP_DIR"`

	// S3 credentials; bucket, region, endpoint and prefix come from StorageURL.
	S3AccessKeyID     string `yaml:"s3_access_key_id" json:"s3_access_key_id" toml:"s3_access_key_id" env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key" json:"s3_secret_access_key" toml:"s3_secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `yaml:"s3_region" json:"s3_region" toml:"s3_region" env:"AWS_REGION"`

	// Behaviour
	HashLocking        bool `yaml:"hash_locking" json:"hash_locking" toml:"hash_locking" env:"HASH_LOCKING"`
	EnableEventLogging bool `yaml:"enable_event_logging" json:"enable_event_logging" toml:"enable_event_logging" env:"ENABLE_EVENT_LOGGING"`
	EnableMetrics      bool `yaml:"enable_metrics" json:"enable_metrics" toml:"enable_metrics" env:"ENABLE_METRICS"`

	// Logging
	LogLevel  string `yaml:"log_level" json:"log_level" toml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" json:"log_format" toml:"log_format" env:"LOG_FORMAT" validate:"oneof=text json"`

	// MaxUploadBytes caps request bodies; 0 means unlimited.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" json:"max_upload_bytes" toml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES" validate:"gte=0"`

	// PIDFile is written by the serve command when set.
	PIDFile string `yaml:"pid_file" json:"pid_file" toml:"pid_file" env:"PID_FILE"`
}

// Option mutates the configuration during Load.
type Option func(*ServerConfig) error

// Load builds a ServerConfig from defaults and the given options, in order,
// and validates the result.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *ServerConfig {
	return &ServerConfig{
		Port:               "8080",
		Environment:        "development",
		MetadataURL:        "memory://",
		StorageURL:         "memory://",
		AutoMigrate:        true,
		HashAlgorithm:      "sha256",
		ShardDepth:         3,
		ShardWidth:         2,
		S3Region:           "us-east-1",
		EnableEventLogging: true,
		EnableMetrics:      true,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for consistency.
func (c *ServerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.MetadataBackend(); err != nil {
		return err
	}
	if _, err := c.StorageBackend(); err != nil {
		return err
	}
	algorithm, err := filestore.ParseHashAlgorithm(c.HashAlgorithm)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ShardDepth*c.ShardWidth > algorithm.HexLen() {
		return fmt.Errorf("invalid config: shard depth %d x width %d exceeds the %s hash length", c.ShardDepth, c.ShardWidth, algorithm)
	}
	return nil
}

// MetadataBackend returns the metadata backend kind named by MetadataURL.
func (c *ServerConfig) MetadataBackend() (string, error) {
	raw := strings.TrimSpace(c.MetadataURL)
	switch {
	case raw == "memory" || strings.HasPrefix(raw, "memory://"):
		return MetadataMemory, nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return MetadataPostgres, nil
	case strings.HasPrefix(raw, "badger://"):
		if localPath(raw, "badger://") == "" {
			return "", fmt.Errorf("invalid config: badger metadata URL requires a path")
		}
		return MetadataBadger, nil
	case strings.HasPrefix(raw, "sqlite://"):
		if localPath(raw, "sqlite://") == "" {
			return "", fmt.Errorf("invalid config: sqlite metadata URL requires a path")
		}
		return MetadataSQLite, nil
	default:
		return "", fmt.Errorf("invalid config: unsupported metadata URL %q (expected memory://, postgres://, badger:// or sqlite://)", raw)
	}
}

// StorageBackend returns the blob backend kind named by StorageURL.
func (c *ServerConfig) StorageBackend() (string, error) {
	raw := strings.TrimSpace(c.StorageURL)
	switch {
	case raw == "memory" || strings.HasPrefix(raw, "memory://"):
		return StorageMemory, nil
	case strings.HasPrefix(raw, "file://"):
		if localPath(raw, "file://") == "" {
			return "", fmt.Errorf("invalid config: file storage URL requires a path")
		}
		return StorageFS, nil
	case strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid config: storage URL: %w", err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("invalid config: s3 storage URL requires a bucket")
		}
		return StorageS3, nil
	default:
		return "", fmt.Errorf("invalid config: unsupported storage URL %q (expected memory://, file:// or s3://)", raw)
	}
}

// localPath strips scheme from a file-like URL. "file:///var/data" and
// "file://data" yield "/var/data" and "data".
func localPath(raw, scheme string) string {
	p := strings.TrimPrefix(strings.TrimSpace(raw), scheme)
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}
