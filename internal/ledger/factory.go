package ledger

import (
	"fmt"
	"io"

	"medialib/internal/config"
	"medialib/internal/database"
	"medialib/internal/media"
)

// Ledger is a media.Ledger that holds resources until closed.
type Ledger interface {
	media.Ledger
	io.Closer
}

// databaseLedger borrows the metadata database, which its owner closes.
type databaseLedger struct {
	*database.SQLiteLedger
}

func (databaseLedger) Close() error { return nil }

// NewLedgerFromConfig creates a Ledger based on the ledger config type. db is
// used by the "database" type.
func NewLedgerFromConfig(cfg config.LedgerConfig, db *database.SQLiteDatabase) (Ledger, error) {
	switch cfg.Type {
	case "database", "":
		if db == nil {
			return nil, fmt.Errorf("database ledger requires the metadata database")
		}
		return databaseLedger{database.NewSQLiteLedger(db)}, nil
	case "memory":
		return NewMemoryLedger(), nil
	case "badger":
		if cfg.BadgerDir == "" {
			return nil, fmt.Errorf("badger ledger requires badger_dir to be set")
		}
		l, err := NewBadgerLedger(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis ledger requires redis_addr to be set")
		}
		l, err := NewRedisLedger(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}
