package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"watchbot/internal/config"
	"watchbot/internal/scraper"
	"watchbot/internal/storage"
	kit "watchbot/internal/transport"
)

// subjectKey is the address-book key of a chat. One chat watches one subject.
func subjectKey(to kit.ChatTarget) string {
	if to.ThreadID != 0 {
		return "chat:" + strconv.FormatInt(to.ChatID, 10) + ":" + strconv.Itoa(to.ThreadID)
	}
	return "chat:" + strconv.FormatInt(to.ChatID, 10)
}

// subjectBook stores subjects in the configured store, or in memory when
// storage is disabled.
type subjectBook struct {
	store storage.Store

	mu  sync.RWMutex
	mem map[string]storage.Subject
}

func newSubjectBook(store storage.Store) *subjectBook {
	return &subjectBook{store: store, mem: map[string]storage.Subject{}}
}

func (b *subjectBook) PutSubject(ctx context.Context, s storage.Subject) error {
	s.Key = strings.TrimSpace(s.Key)
	if s.Key == "" {
		return errors.New("subject key is required")
	}
	if b.store != nil {
		return b.store.PutSubject(ctx, s)
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	s.Config = maps.Clone(s.Config)
	b.mu.Lock()
	b.mem[s.Key] = s
	b.mu.Unlock()
	return nil
}

func (b *subjectBook) GetSubject(ctx context.Context, key string) (storage.Subject, bool, error) {
	if b.store != nil {
		return b.store.GetSubject(ctx, key)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.mem[strings.TrimSpace(key)]
	if ok {
		s.Config = maps.Clone(s.Config)
	}
	return s, ok, nil
}

func (b *subjectBook) DeleteSubject(ctx context.Context, key string) error {
	if b.store != nil {
		return b.store.DeleteSubject(ctx, key)
	}
	b.mu.Lock()
	delete(b.mem, strings.TrimSpace(key))
	b.mu.Unlock()
	return nil
}

func (b *subjectBook) ListSubjects(ctx context.Context) ([]storage.Subject, error) {
	if b.store != nil {
		return b.store.ListSubjects(ctx)
	}
	b.mu.RLock()
	out := make([]storage.Subject, 0, len(b.mem))
	for _, s := range b.mem {
		out = append(out, s)
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(a, b storage.Subject) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

var errScraperDisabled = errors.New("scraper disabled")

// configuredDirectory resolves subjects against the live config: the
// subject's scraper must be enabled, and the scraper's configured defaults
// are merged under the subject's own config.
type configuredDirectory struct {
	book *subjectBook
	cfg  func() *config.Config
}

func (d configuredDirectory) GetSubject(ctx context.Context, key string) (storage.Subject, bool, error) {
	s, ok, err := d.book.GetSubject(ctx, key)
	if err != nil || !ok {
		return s, ok, err
	}
	cfg := d.cfg()
	if cfg == nil {
		return s, true, nil
	}
	sc, found := cfg.Scrapers[s.Scraper]
	if !found || !sc.Enabled {
		return storage.Subject{}, false, fmt.Errorf("%w: %s", errScraperDisabled, s.Scraper)
	}
	s.Config = scraper.Merge(sc.Defaults, s.Config)
	return s, true, nil
}
