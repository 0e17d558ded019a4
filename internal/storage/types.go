package storage

import (
	"errors"
	"time"

	"watchbot/internal/schedule"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config selects and configures a driver.
//
// Driver values:
//   - "file": JSON snapshot + JSONL journals under Path's directory
//   - "sqlite": SQLite database at Path
//
// An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Subject is one address-book entry: which scraper to run and with what
// config, and where its notifications go.
type Subject struct {
	Key       string            `json:"key"`
	Scraper   string            `json:"scraper"`
	Config    map[string]string `json:"config"`
	ChatID    int64             `json:"chat_id"`
	ThreadID  int               `json:"thread_id,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// MonitorRecord is the resumable state of a running monitor.
type MonitorRecord struct {
	Key           string               `json:"key"`
	Every         string               `json:"every"`
	StartedAt     time.Time            `json:"started_at"`
	Cached        *schedule.Schedule   `json:"cached,omitempty"`
	LastCheckedAt time.Time            `json:"last_checked_at,omitzero"`
	LastNotified  map[string]time.Time `json:"last_notified,omitempty"`
}

// AuditEntry records one bot command.
type AuditEntry struct {
	At       time.Time `json:"at"`
	ChatID   int64     `json:"chat_id"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Command  string    `json:"command"`
	Args     string    `json:"args,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
