package colmena

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configuration files can use
// "30s"/"15m" style values in both YAML and JSON.
type Duration time.Duration

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration in time.Duration notation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Storage backend names accepted in configuration.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageS3     = "s3"
)

// StorageConfig selects and configures the snapshot store backend.
type StorageConfig struct {
	// Backend is one of "memory", "sqlite", or "s3".
	Backend string `json:"backend" yaml:"backend"`

	// Path is the SQLite database file (sqlite backend).
	Path string `json:"path" yaml:"path"`

	// S3 settings (s3 backend).
	Bucket          string `json:"bucket" yaml:"bucket"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	UsePathStyle    bool   `json:"use_path_style" yaml:"use_path_style"`
}

// Config is the top-level pool server configuration.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Federation FederationConfig `json:"federation" yaml:"federation"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
}

// DefaultConfig returns the default configuration: in-memory snapshots,
// default privacy settings, loopback listener.
func DefaultConfig() Config {
	return Config{
		Server:     DefaultServerConfig(),
		Federation: DefaultFederationConfig(),
		Storage:    StorageConfig{Backend: StorageMemory},
	}
}

// LoadConfig reads a YAML configuration file, applying defaults for
// anything left unset.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "", StorageMemory, StorageSQLite, StorageS3:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Federation.Privacy.Quorum < 0 {
		return fmt.Errorf("quorum must not be negative")
	}
	if c.Federation.Privacy.Epsilon < 0 {
		return fmt.Errorf("epsilon must not be negative")
	}
	return nil
}

// OpenSnapshotStore builds the snapshot store named by the
// configuration.
func OpenSnapshotStore(config StorageConfig) (SnapshotStore, error) {
	switch config.Backend {
	case "", StorageMemory:
		return NewMemorySnapshotStore(), nil

	case StorageSQLite:
		sqliteCfg := DefaultSQLiteStoreConfig()
		if config.Path != "" {
			sqliteCfg.Path = config.Path
		}
		return NewSQLiteStore(sqliteCfg)

	case StorageS3:
		return NewS3Store(S3StoreConfig{
			Bucket:          config.Bucket,
			Region:          config.Region,
			Endpoint:        config.Endpoint,
			Prefix:          config.Prefix,
			AccessKeyID:     config.AccessKeyID,
			SecretAccessKey: config.SecretAccessKey,
			UsePathStyle:    config.UsePathStyle,
			RequestTimeout:  30 * time.Second,
		})

	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Backend)
	}
}
