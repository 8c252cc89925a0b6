package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gatepass/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled and Open returns
// (nil, nil); callers fall back to in-memory seen tracking.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the seen-marker persistence API used by the poller.
type Store interface {
	// MarkSeen records that the viewer has seen the notification id.
	// Marking an already-seen id is a harmless upsert.
	MarkSeen(ctx context.Context, id string, at time.Time) error
	// Seen reports whether the id has been marked.
	Seen(ctx context.Context, id string) (bool, error)
	// PruneSeen removes markers recorded before the cutoff and returns how
	// many were removed.
	PruneSeen(ctx context.Context, olderThan time.Time) (int, error)
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
