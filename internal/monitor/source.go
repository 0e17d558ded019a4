package monitor

import (
	"context"
	"fmt"
	"strconv"

	"watchbot/internal/schedule"
	"watchbot/internal/scraper"
	"watchbot/internal/storage"
)

// DefaultOp is the scraper operation a FactorySource runs each tick.
const DefaultOp = "get_schedule"

// Directory resolves subject keys. storage.Store satisfies it.
type Directory interface {
	GetSubject(ctx context.Context, key string) (storage.Subject, bool, error)
}

// ScheduleSnapshotter is implemented by scraper payloads that carry a schedule.
type ScheduleSnapshotter interface {
	ScheduleSnapshot() schedule.Schedule
}

// FactorySource fetches a subject's schedule by running its scraper through
// the factory, one short-lived session per fetch.
type FactorySource struct {
	Factory  *scraper.Factory
	Subjects Directory
	Op       string
	Days     int
}

func (s *FactorySource) op() string {
	if s.Op == "" {
		return DefaultOp
	}
	return s.Op
}

func (s *FactorySource) subject(ctx context.Context, key string) (storage.Subject, error) {
	sub, ok, err := s.Subjects.GetSubject(ctx, key)
	if err != nil {
		return storage.Subject{}, fmt.Errorf("load subject %s: %w", key, err)
	}
	if !ok {
		return storage.Subject{}, fmt.Errorf("unknown subject %q", key)
	}
	return sub, nil
}

func (s *FactorySource) Check(ctx context.Context, key string) error {
	sub, err := s.subject(ctx, key)
	if err != nil {
		return err
	}
	desc, _, ok := s.Factory.Registry().Lookup(sub.Scraper)
	if !ok {
		return fmt.Errorf("%w: %s", scraper.ErrUnknownScraper, sub.Scraper)
	}
	if !desc.Supports(s.op()) {
		return scraper.Unsupported(sub.Scraper, s.op())
	}
	return s.Factory.Validate(sub.Scraper, scraper.Config(sub.Config))
}

func (s *FactorySource) Fetch(ctx context.Context, key string) (schedule.Schedule, error) {
	sub, err := s.subject(ctx, key)
	if err != nil {
		return nil, err
	}
	params := scraper.Params{}
	if s.Days > 0 {
		params["days"] = strconv.Itoa(s.Days)
	}
	res, err := s.Factory.Run(ctx, sub.Scraper, scraper.Config(sub.Config), s.op(), params)
	if err != nil {
		return nil, err
	}
	switch p := res.Payload.(type) {
	case schedule.Schedule:
		return p, nil
	case ScheduleSnapshotter:
		return p.ScheduleSnapshot(), nil
	default:
		return nil, fmt.Errorf("%s/%s returned %T, not a schedule", sub.Scraper, s.op(), res.Payload)
	}
}
