package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("media-1", "/srv/medialib")
	original.Ledger = LedgerConfig{Type: "redis", RedisAddr: "localhost:6379", RedisDB: 2}
	original.Snapshots = []SnapshotConfig{
		{Type: "s3", Name: "offsite", S3Bucket: "media-snapshots", S3Region: "eu-west-1", S3Prefix: "prod/"},
	}
	original.Events = []EventSinkConfig{{Type: "nats", NATSURL: "nats://localhost:4222", Subject: "media.events"}}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.InstanceID != original.InstanceID {
		t.Errorf("InstanceID = %q, want %q", got.InstanceID, original.InstanceID)
	}
	if got.Storage.Root != "/srv/medialib/uploads" {
		t.Errorf("Storage.Root = %q, want %q", got.Storage.Root, "/srv/medialib/uploads")
	}
	if got.Ledger.Type != "redis" || got.Ledger.RedisDB != 2 {
		t.Errorf("Ledger = %+v, want redis db 2", got.Ledger)
	}
	if len(got.Snapshots) != 1 {
		t.Fatalf("len(Snapshots) = %d, want 1", len(got.Snapshots))
	}
	if got.Snapshots[0].S3Bucket != "media-snapshots" {
		t.Errorf("Snapshots[0].S3Bucket = %q, want %q", got.Snapshots[0].S3Bucket, "media-snapshots")
	}
	if len(got.Events) != 1 || got.Events[0].Subject != "media.events" {
		t.Errorf("Events = %+v, want one nats sink", got.Events)
	}
	if len(got.Derivatives.Sizes) != 2 {
		t.Errorf("len(Derivatives.Sizes) = %d, want 2", len(got.Derivatives.Sizes))
	}
	if err := Validate(got); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("media-1", "/data/medialib")

	if cfg.InstanceID != "media-1" {
		t.Errorf("InstanceID = %q, want %q", cfg.InstanceID, "media-1")
	}
	if cfg.LogDir != "/data/medialib/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/medialib/log")
	}
	if cfg.Encryption.PublicKeyPath != "/data/medialib/keys/medialib.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/medialib/keys/medialib.pub")
	}
	if cfg.Database.DataDir != "/data/medialib/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/medialib/db")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(NewConfig()) error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"missing instance id", func(c *Config) { c.InstanceID = "" }, "InstanceID"},
		{"sqlite without data dir", func(c *Config) { c.Database.DataDir = "" }, "DataDir"},
		{"memory database needs no data dir", func(c *Config) { c.Database = DatabaseConfig{Type: "memory"} }, ""},
		{"unknown database type", func(c *Config) { c.Database.Type = "postgres" }, "Type"},
		{"bad base url", func(c *Config) { c.Storage.BaseURL = "not a url" }, "BaseURL"},
		{"badger without dir", func(c *Config) { c.Ledger = LedgerConfig{Type: "badger"} }, "BadgerDir"},
		{"redis without addr", func(c *Config) { c.Ledger = LedgerConfig{Type: "redis"} }, "RedisAddr"},
		{"unknown minimum", func(c *Config) { c.Access.Minimum = "editor" }, "Minimum"},
		{"nats without url", func(c *Config) { c.Events = []EventSinkConfig{{Type: "nats"}} }, "NATSURL"},
		{"s3 without bucket", func(c *Config) { c.Snapshots = []SnapshotConfig{{Type: "s3", S3Region: "us-east-1"}} }, "S3Bucket"},
		{"age without keys", func(c *Config) { c.Encryption = EncryptionConfig{Type: "age"} }, "PublicKeyPath"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "Endpoint"},
		{"bad derivative size", func(c *Config) { c.Derivatives.Sizes = []string{"150"} }, "derivatives.sizes[0]"},
		{"duplicate status", func(c *Config) { c.Storage.Statuses = []string{"public", "public"} }, "duplicate status"},
		{"status with slash", func(c *Config) { c.Storage.Statuses = []string{"a/b"} }, "Statuses"},
		{"bad deny pattern", func(c *Config) { c.Policy.Deny = []string{"[a-"} }, "policy.deny[0]"},
		{"duplicate vault names", func(c *Config) {
			c.Snapshots = append(c.Snapshots, SnapshotConfig{Type: "memory", Name: "local"})
		}, "duplicate snapshot vault name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("media-1", "/data/medialib")
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "medialib.toml")
		cfg := NewConfig("m1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "medialib.toml")
		cfg := NewConfig("m1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})

	t.Run("refuses invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "medialib.toml")
		cfg := NewConfig("", dir)

		if err := Init(path, cfg); err == nil {
			t.Fatal("Init() expected error for missing instance id")
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("config file should not exist, stat error = %v", err)
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "medialib.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.InstanceID != "read-test" {
			t.Errorf("InstanceID = %q, want %q", got.InstanceID, "read-test")
		}
	})

	t.Run("returns error for invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "medialib.toml")
		if err := os.WriteFile(path, []byte("instance_id = \"x\"\nbase_dir = \"/tmp\"\n"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		if _, err := ReadFromFile(path); err == nil {
			t.Fatal("ReadFromFile() expected validation error")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/medialib.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
