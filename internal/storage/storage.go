// Package storage persists the small amount of state the scheduler core
// owns: per-event catch-up cursors (and other namespaced state values) and
// the transaction/audit log.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/purpose168/xyops/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the scheduler runs
// without catch-up persistence or a transaction log.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Transaction is one audit-log entry. Kind is a short class like
// "warning", "event_delete"; Meta is optional JSON.
type Transaction struct {
	ID          string
	At          time.Time
	Kind        string
	Description string
	MetaJSON    string
}

// Store is the minimal persistence API used by the scheduler core.
//
// State keys are slash-namespaced, e.g. "events/{id}/cursor" holds an
// event's catch-up high-water mark as a decimal minute epoch.
type Store interface {
	GetState(ctx context.Context, key string) (value string, ok bool, err error)
	PutState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, prefix string) error
	AppendTransaction(ctx context.Context, t Transaction) error
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
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
