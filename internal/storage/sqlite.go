package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "watchbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutSubject(ctx context.Context, sub Subject) error {
	sub.Key = strings.TrimSpace(sub.Key)
	if sub.Key == "" {
		return errors.New("subject key is required")
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now()
	}
	cfg, err := json.Marshal(sub.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subjects(key, scraper, config, chat_id, thread_id, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   scraper=excluded.scraper, config=excluded.config, chat_id=excluded.chat_id,
		   thread_id=excluded.thread_id, updated_at=excluded.updated_at`,
		sub.Key, sub.Scraper, string(cfg), sub.ChatID, sub.ThreadID, sub.UpdatedAt.UnixMilli(),
	)
	return err
}

const subjectCols = `key, scraper, config, chat_id, thread_id, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanSubject(r rowScanner) (Subject, error) {
	var (
		sub     Subject
		cfg     string
		updated int64
	)
	if err := r.Scan(&sub.Key, &sub.Scraper, &cfg, &sub.ChatID, &sub.ThreadID, &updated); err != nil {
		return Subject{}, err
	}
	if cfg != "" && cfg != "null" {
		if err := json.Unmarshal([]byte(cfg), &sub.Config); err != nil {
			return Subject{}, fmt.Errorf("subject %s config: %w", sub.Key, err)
		}
	}
	sub.UpdatedAt = time.UnixMilli(updated)
	return sub, nil
}

func (s *sqliteStore) GetSubject(ctx context.Context, key string) (Subject, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subjectCols+` FROM subjects WHERE key = ?`, strings.TrimSpace(key))
	sub, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, false, nil
	}
	if err != nil {
		return Subject{}, false, err
	}
	return sub, true, nil
}

func (s *sqliteStore) DeleteSubject(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subjects WHERE key = ?`, strings.TrimSpace(key))
	return err
}

func (s *sqliteStore) ListSubjects(ctx context.Context) ([]Subject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subjectCols+` FROM subjects ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subject
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutMonitor(ctx context.Context, r MonitorRecord) error {
	r.Key = strings.TrimSpace(r.Key)
	if r.Key == "" {
		return errors.New("monitor key is required")
	}
	state, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitors(key, state, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at`,
		r.Key, string(state), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteMonitor(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM monitors WHERE key = ?`, strings.TrimSpace(key))
	return err
}

func (s *sqliteStore) ListMonitors(ctx context.Context) ([]MonitorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, state FROM monitors ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonitorRecord
	for rows.Next() {
		var key, state string
		if err := rows.Scan(&key, &state); err != nil {
			return nil, err
		}
		var r MonitorRecord
		if err := json.Unmarshal([]byte(state), &r); err != nil {
			s.log.Warn("skipping unreadable monitor record", logx.String("key", key), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, chat_id, user_id, username, command, args, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ChatID, e.UserID, nullStr(e.Username),
		e.Command, nullStr(e.Args), e.OK, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
