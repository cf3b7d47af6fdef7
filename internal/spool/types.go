package spool

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled = errors.New("spool disabled")
	ErrNotFound = errors.New("spool entry not found")
)

const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Config configures the spool of one runner.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": JSON lines journal + snapshot
//   - "none": spooling disabled
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Entry is one undelivered event. Data is opaque to the spool.
type Entry struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Summary     string    `json:"summary"`
	Data        []byte    `json:"data"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

// Store is a FIFO of undelivered events plus the dedup table.
type Store interface {
	Put(ctx context.Context, e Entry) error
	// Oldest returns up to limit entries, oldest first. limit <= 0 means all.
	Oldest(ctx context.Context, limit int) ([]Entry, error)
	Delete(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id string, cause error) error
	DropOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

func normalizeDriver(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	switch d {
	case "", "sqlite3":
		return DriverSQLite
	}
	return d
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
