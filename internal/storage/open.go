package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "watchbot/pkg/logx"
)

// Store is the persistence API used by the app, monitor manager and notifier.
type Store interface {
	PutSubject(ctx context.Context, s Subject) error
	GetSubject(ctx context.Context, key string) (Subject, bool, error)
	DeleteSubject(ctx context.Context, key string) error
	ListSubjects(ctx context.Context) ([]Subject, error)

	PutMonitor(ctx context.Context, r MonitorRecord) error
	DeleteMonitor(ctx context.Context, key string) error
	ListMonitors(ctx context.Context) ([]MonitorRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return st, nil
}
