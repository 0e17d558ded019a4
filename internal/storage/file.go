package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "watchbot/pkg/logx"
)

// fileStore keeps everything in memory and mirrors it to disk.
//
// Files:
//   - <prefix>.state.json          (subjects + monitors, rewritten on change)
//   - <prefix>.audit.jsonl         (append-only JSON Lines)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// The dedup journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	subjects  map[string]Subject
	monitors  map[string]MonitorRecord

	auditFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
	compactEvery      int
}

type fileState struct {
	Subjects []Subject       `json:"subjects"`
	Monitors []MonitorRecord `json:"monitors"`
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		statePath:         prefix + ".state.json",
		subjects:          map[string]Subject{},
		monitors:          map[string]MonitorRecord{},
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		dedup:             map[string]int64{},
		compactEvery:      1000,
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}

	journalPath := prefix + ".dedup.journal.jsonl"
	if err := loadDedupSnapshot(s.dedupSnapshotPath, s.dedup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup snapshot unreadable", logx.Err(err))
	}
	if err := replayDedupJournal(journalPath, s.dedup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dedup journal unreadable", logx.Err(err))
	}
	pruneExpiredDedup(s.dedup, time.Now())

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.auditFile = af
	s.dedupJournalFile = jf

	log.Debug("file store opened",
		logx.String("prefix", prefix),
		logx.Int("subjects", len(s.subjects)),
		logx.Int("monitors", len(s.monitors)),
		logx.Int("dedup", len(s.dedup)),
	)
	return s, nil
}

func (s *fileStore) loadState() error {
	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	for _, sub := range st.Subjects {
		s.subjects[sub.Key] = sub
	}
	for _, m := range st.Monitors {
		s.monitors[m.Key] = m
	}
	return nil
}

func (s *fileStore) saveStateLocked() error {
	st := fileState{
		Subjects: sortedValues(s.subjects, func(v Subject) string { return v.Key }),
		Monitors: sortedValues(s.monitors, func(v MonitorRecord) string { return v.Key }),
	}
	return writeJSONAtomic(s.statePath, st)
}

func sortedValues[T any](m map[string]T, key func(T) string) []T {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b T) int { return strings.Compare(key(a), key(b)) })
	return out
}

func (s *fileStore) closedLocked() bool { return s.auditFile == nil }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.dedupJournalFile != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.dedupJournalFile.Close())
		s.dedupJournalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) PutSubject(_ context.Context, sub Subject) error {
	sub.Key = strings.TrimSpace(sub.Key)
	if sub.Key == "" {
		return errors.New("subject key is required")
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now()
	}
	sub.Config = maps.Clone(sub.Config)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return ErrClosed
	}
	s.subjects[sub.Key] = sub
	return s.saveStateLocked()
}

func (s *fileStore) GetSubject(_ context.Context, key string) (Subject, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subjects[strings.TrimSpace(key)]
	if ok {
		sub.Config = maps.Clone(sub.Config)
	}
	return sub, ok, nil
}

func (s *fileStore) DeleteSubject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return ErrClosed
	}
	key = strings.TrimSpace(key)
	if _, ok := s.subjects[key]; !ok {
		return nil
	}
	delete(s.subjects, key)
	return s.saveStateLocked()
}

func (s *fileStore) ListSubjects(context.Context) ([]Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := sortedValues(s.subjects, func(v Subject) string { return v.Key })
	for i := range out {
		out[i].Config = maps.Clone(out[i].Config)
	}
	return out, nil
}

func (s *fileStore) PutMonitor(_ context.Context, r MonitorRecord) error {
	r.Key = strings.TrimSpace(r.Key)
	if r.Key == "" {
		return errors.New("monitor key is required")
	}
	r.LastNotified = maps.Clone(r.LastNotified)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return ErrClosed
	}
	s.monitors[r.Key] = r
	return s.saveStateLocked()
}

func (s *fileStore) DeleteMonitor(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return ErrClosed
	}
	key = strings.TrimSpace(key)
	if _, ok := s.monitors[key]; !ok {
		return nil
	}
	delete(s.monitors, key)
	return s.saveStateLocked()
}

func (s *fileStore) ListMonitors(context.Context) ([]MonitorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := sortedValues(s.monitors, func(v MonitorRecord) string { return v.Key })
	for i := range out {
		out[i].LastNotified = maps.Clone(out[i].LastNotified)
	}
	return out, nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return ErrClosed
	}
	s.dedup[key] = ms

	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup, time.Now())
	if err := writeJSONAtomic(s.dedupSnapshotPath, s.dedup); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.dedupJournalFile.Seek(0, 2)
	return err
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	maps.Copy(out, m)
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	ms := now.UnixMilli()
	for k, v := range m {
		if v < ms {
			delete(m, k)
		}
	}
}
