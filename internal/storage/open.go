package storage

import (
	"context"
	"errors"
	"strings"

	logx "sigbatch/pkg/logx"
)

// Store is the persistence API used by the coordinator and the CLI.
type Store interface {
	AppendBatch(ctx context.Context, r BatchRecord) error
	// RecentBatches returns up to limit records, newest first.
	RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Recent is a nil-safe RecentBatches.
func Recent(ctx context.Context, st Store, limit int) ([]BatchRecord, error) {
	if st == nil {
		return nil, ErrDisabled
	}
	return st.RecentBatches(ctx, limit)
}
