// Package monitor runs one polling loop per subject: fetch the schedule,
// diff it against the last one seen, notify about changes and about slots
// that start soon.
//
// Each loop owns its State exclusively. The Manager only starts, stops and
// reports on loops.
package monitor

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"watchbot/internal/eventbus"
	"watchbot/internal/schedule"
	"watchbot/internal/storage"
	logx "watchbot/pkg/logx"
)

var (
	// ErrConfiguration means a monitor could not start: unknown subject,
	// bad cadence or a scraper config that fails validation.
	ErrConfiguration = errors.New("monitor configuration error")
	ErrNotRunning    = errors.New("monitor not running")
	ErrClosed        = errors.New("monitor manager closed")
)

// Source produces the current schedule of a subject.
type Source interface {
	// Check reports whether key can be fetched at all, without fetching.
	Check(ctx context.Context, key string) error
	Fetch(ctx context.Context, key string) (schedule.Schedule, error)
}

// Notifier delivers a message about a subject. Delivery failures are the
// notifier's business; the loop logs them and moves on.
type Notifier interface {
	Notify(ctx context.Context, key, text string) error
}

// Persister stores monitor state across restarts. storage.Store satisfies it.
type Persister interface {
	PutMonitor(ctx context.Context, r storage.MonitorRecord) error
	DeleteMonitor(ctx context.Context, key string) error
	ListMonitors(ctx context.Context) ([]storage.MonitorRecord, error)
}

// State is what one loop remembers between ticks.
type State struct {
	Key           string
	Cached        *schedule.Schedule
	LastCheckedAt time.Time
	// LastNotified maps "<date> <slot>" to the time the upcoming notice went out.
	LastNotified map[string]time.Time
}

func stateFromRecord(r storage.MonitorRecord) State {
	st := State{Key: r.Key, Cached: r.Cached, LastCheckedAt: r.LastCheckedAt, LastNotified: maps.Clone(r.LastNotified)}
	if st.LastNotified == nil {
		st.LastNotified = map[string]time.Time{}
	}
	return st
}

func (s State) record(c Cadence, startedAt time.Time) storage.MonitorRecord {
	r := storage.MonitorRecord{
		Key:           s.Key,
		Every:         c.Spec,
		StartedAt:     startedAt,
		LastCheckedAt: s.LastCheckedAt,
		LastNotified:  maps.Clone(s.LastNotified),
	}
	if s.Cached != nil {
		cached := slices.Clone(*s.Cached)
		r.Cached = &cached
	}
	return r
}

func notifiedKey(d schedule.Date, slot string) string { return d.String() + " " + slot }

// prune drops dedup stamps older than window.
func (s *State) prune(now time.Time, window time.Duration) {
	maps.DeleteFunc(s.LastNotified, func(_ string, at time.Time) bool { return now.Sub(at) > window })
}

// Status is a point-in-time view of one monitor.
type Status struct {
	Key                 string    `json:"key"`
	Running             bool      `json:"running"`
	Every               string    `json:"every,omitempty"`
	StartedAt           time.Time `json:"started_at,omitzero"`
	LastCheckedAt       time.Time `json:"last_checked_at,omitzero"`
	NextCheckAt         time.Time `json:"next_check_at,omitzero"`
	Ticks               int       `json:"ticks"`
	Failures            int       `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at,omitzero"`
	Notifications       int       `json:"notifications"`
	NotifyFailures      int       `json:"notify_failures"`
	CachedDays          int       `json:"cached_days"`
}

type Options struct {
	Source   Source
	Notifier Notifier
	// Persister is optional; nil keeps state in memory only.
	Persister Persister
	Bus       eventbus.Bus
	Log       logx.Logger
	Location  *time.Location
	Now       func() time.Time

	DefaultEvery   string
	MinInterval    time.Duration
	ExtractTimeout time.Duration
	NotifyTimeout  time.Duration

	// Upcoming window and dedup window for the "starts soon" notice.
	UpcomingFrom time.Duration
	UpcomingTo   time.Duration
	DedupWindow  time.Duration
}

const (
	DefaultEvery          = "1h"
	DefaultExtractTimeout = 2 * time.Minute
	DefaultNotifyTimeout  = 30 * time.Second
	DefaultUpcomingFrom   = 15 * time.Minute
	DefaultUpcomingTo     = 30 * time.Minute
	DefaultDedupWindow    = time.Hour
)

func (o Options) withDefaults() Options {
	if o.Bus == nil {
		o.Bus = eventbus.Nop{}
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DefaultEvery == "" {
		o.DefaultEvery = DefaultEvery
	}
	if o.ExtractTimeout <= 0 {
		o.ExtractTimeout = DefaultExtractTimeout
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = DefaultNotifyTimeout
	}
	if o.UpcomingFrom <= 0 {
		o.UpcomingFrom = DefaultUpcomingFrom
	}
	if o.UpcomingTo <= 0 {
		o.UpcomingTo = DefaultUpcomingTo
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	return o
}
