package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for medialib.
type Config struct {
	InstanceID  string            `toml:"instance_id" validate:"required"`
	BaseDir     string            `toml:"base_dir" validate:"required"`
	LogDir      string            `toml:"log_dir"`
	LogLevel    string            `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Storage     StorageConfig     `toml:"storage"`
	Database    DatabaseConfig    `toml:"database"`
	Ledger      LedgerConfig      `toml:"ledger"`
	Access      AccessConfig      `toml:"access"`
	Policy      PolicyConfig      `toml:"policy"`
	Derivatives DerivativesConfig `toml:"derivatives"`
	Events      []EventSinkConfig `toml:"events" validate:"dive"`
	Snapshots   []SnapshotConfig  `toml:"snapshots" validate:"dive"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Tracing     TracingConfig     `toml:"tracing"`
	CLI         CLIConfig         `toml:"cli"`
}

// StorageConfig describes the upload root on disk and the URL it is served at.
type StorageConfig struct {
	Root     string   `toml:"root" validate:"required"`
	BaseURL  string   `toml:"base_url" validate:"required,url"`
	Statuses []string `toml:"statuses" validate:"dive,required,excludesall=/"` // defaults to public and private
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"required,oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// LedgerConfig selects where disk usage totals are kept.
type LedgerConfig struct {
	Type string `toml:"type" validate:"omitempty,oneof=database memory badger redis"` // "database" (default)

	// Badger-specific fields (only used when Type == "badger")
	BadgerDir string `toml:"badger_dir,omitempty" validate:"required_if=Type badger"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty" validate:"required_if=Type redis"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty" validate:"min=0"`
	RedisPrefix   string `toml:"redis_prefix,omitempty"`
}

// AccessConfig holds the site-wide access policy.
type AccessConfig struct {
	Minimum   string `toml:"minimum" validate:"omitempty,oneof=authenticated subscriber contributor"`
	Multisite bool   `toml:"multisite"`
}

// PolicyConfig restricts what may be uploaded.
type PolicyConfig struct {
	Deny         []string `toml:"deny"`
	AllowedTypes []string `toml:"allowed_types"`
	MaxBytes     int64    `toml:"max_bytes" validate:"min=0"`
}

// DerivativesConfig controls secondary representations of uploaded images.
type DerivativesConfig struct {
	Type  string   `toml:"type" validate:"omitempty,oneof=none image"`
	Sizes []string `toml:"sizes" validate:"dive,required"` // "WIDTHxHEIGHT"
}

// EventSinkConfig is one destination for change notifications.
type EventSinkConfig struct {
	Type    string `toml:"type" validate:"required,oneof=log nats"`
	NATSURL string `toml:"nats_url,omitempty" validate:"required_if=Type nats"`
	Subject string `toml:"subject,omitempty"`
}

// SnapshotConfig represents a vault that receives metadata snapshots.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SnapshotConfig struct {
	Type string `toml:"type" validate:"required,oneof=memory filesystem s3"`
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty" validate:"required_if=Type s3"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
	S3KeyID    string `toml:"s3_access_key_id,omitempty"`
	S3Secret   string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty" validate:"required_if=Type filesystem"`
}

// EncryptionConfig holds paths to the age key pair used for snapshot encryption.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=age none test"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path" validate:"required_if=Type age"`
	PrivateKeyPath string `toml:"private_key_path" validate:"required_if=Type age"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string `toml:"service_name"`
	Insecure    bool   `toml:"insecure"`
}

// CLIConfig holds the subject used when no flags are given.
type CLIConfig struct {
	User          int64  `toml:"user" validate:"min=0"`
	Role          string `toml:"role" validate:"omitempty,oneof=none subscriber contributor author editor administrator"`
	Tenant        int64  `toml:"tenant" validate:"min=0"`
	NetworkAdmin  bool   `toml:"network_admin"`
	HistoryLength int    `toml:"history_length" validate:"min=0"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		Storage: StorageConfig{
			Root:    filepath.Join(baseDir, "uploads"),
			BaseURL: "http://localhost/uploads",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Ledger:   LedgerConfig{Type: "database"},
		Access:   AccessConfig{Minimum: "authenticated"},
		Policy: PolicyConfig{
			Deny:     []string{".*", "*.php", "*.exe"},
			MaxBytes: 64 << 20,
		},
		Derivatives: DerivativesConfig{Type: "image", Sizes: []string{"150x150", "640x480"}},
		Events:      []EventSinkConfig{{Type: "log"}},
		Snapshots: []SnapshotConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "snapshots")},
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "medialib.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "medialib.key"),
		},
		Tracing: TracingConfig{ServiceName: "medialib"},
		CLI:     CLIConfig{Tenant: 1, Role: "administrator", User: 1, HistoryLength: 20},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
