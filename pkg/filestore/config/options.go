package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv overlays environment variables named by the `env` struct tags.
// Unset variables leave the current value alone.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		return nil
	}
}

// WithFile reads a YAML, JSON or TOML file, chosen by extension, and then
// applies the environment on top of it.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
		return nil
	}
}

// WithPort sets the HTTP port.
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = strings.TrimPrefix(port, ":")
		return nil
	}
}

// WithMetadataURL selects the metadata backend.
func WithMetadataURL(raw string) Option {
	return func(c *ServerConfig) error {
		c.MetadataURL = raw
		return nil
	}
}

// WithStorageURL selects the blob backend.
func WithStorageURL(raw string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = raw
		return nil
	}
}

// WithDataDir keeps blobs and metadata under dir, for whichever of the two
// is still on the in-memory default.
func WithDataDir(dir string) Option {
	return func(c *ServerConfig) error {
		if dir == "" {
			return nil
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		if kind, err := c.StorageBackend(); err == nil && kind == StorageMemory {
			c.StorageURL = "file://" + filepath.Join(abs, "blobs")
		}
		if kind, err := c.MetadataBackend(); err == nil && kind == MetadataMemory {
			c.MetadataURL = "badger://" + filepath.Join(abs, "meta")
		}
		return nil
	}
}

// WithHashAlgorithm sets the content hash algorithm.
func WithHashAlgorithm(name string) Option {
	return func(c *ServerConfig) error {
		c.HashAlgorithm = name
		return nil
	}
}

// WithHashLocking toggles per-hash locking in the file store.
func WithHashLocking(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.HashLocking = enabled
		return nil
	}
}

// WithLogging sets the log level and format.
func WithLogging(level, format string) Option {
	return func(c *ServerConfig) error {
		if level != "" {
			c.LogLevel = level
		}
		if format != "" {
			c.LogFormat = format
		}
		return nil
	}
}

// WithPIDFile sets the pid file path.
func WithPIDFile(path string) Option {
	return func(c *ServerConfig) error {
		c.PIDFile = path
		return nil
	}
}
