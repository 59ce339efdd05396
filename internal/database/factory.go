package database

import (
	"fmt"
	"os"
	"path/filepath"

	"medialib/internal/config"
	"medialib/internal/media"
)

// NewDatabaseFromConfig opens the metadata database described by cfg. The
// sqlite file is named after the instance.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, instanceID string, clock media.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := ensureDir(cfg.DataDir); err != nil {
			return nil, err
		}
		return NewSQLiteDatabase(FilePath(cfg, instanceID), clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// FilePath is where the sqlite database of an instance lives.
func FilePath(cfg config.DatabaseConfig, instanceID string) string {
	return filepath.Join(cfg.DataDir, instanceID+".db")
}
