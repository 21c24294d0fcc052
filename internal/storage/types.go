package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "" or "none": storage disabled (Open returns nil, nil)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
	Retention   time.Duration // prune entries older than this; 0 = keep 30d
}

// DeliveryEntry records one egress attempt. Keep it compact and
// schema-stable.
type DeliveryEntry struct {
	At       time.Time
	Channel  string
	ChatID   int64
	ThreadID int
	Text     string
	Attempts int
	Error    string
}
