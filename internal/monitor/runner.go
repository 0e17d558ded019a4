package monitor

import (
	"context"
	"sync"
	"time"

	"watchbot/internal/eventbus"
	"watchbot/internal/schedule"
	logx "watchbot/pkg/logx"
)

// runner is one monitor loop. state is touched only by the loop goroutine;
// status is shared with the Manager under mu.
type runner struct {
	key     string
	cadence Cadence
	opts    Options
	log     logx.Logger

	state State

	mu     sync.Mutex
	status Status
}

func newRunner(key string, c Cadence, st State, startedAt time.Time, opts Options) *runner {
	if st.LastNotified == nil {
		st.LastNotified = map[string]time.Time{}
	}
	st.Key = key
	r := &runner{
		key:     key,
		cadence: c,
		opts:    opts,
		log:     opts.Log.With(logx.String("monitor", key)),
		state:   st,
	}
	r.status = Status{Key: key, Running: true, Every: c.Spec, StartedAt: startedAt, LastCheckedAt: st.LastCheckedAt}
	if st.Cached != nil {
		r.status.CachedDays = len(*st.Cached)
	}
	return r
}

func (r *runner) snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *runner) update(fn func(s *Status)) {
	r.mu.Lock()
	fn(&r.status)
	r.mu.Unlock()
}

func (r *runner) now() time.Time { return r.opts.Now().In(r.opts.Location) }

func (r *runner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		r.tick(ctx)

		next := r.cadence.Next(r.now())
		r.update(func(s *Status) { s.NextCheckAt = next })
		if !sleepUntil(ctx, next.Sub(r.now())) {
			return
		}
	}
}

func sleepUntil(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// tick runs one fetch, diff, notify and upcoming scan. A failed fetch
// skips change detection but still scans the cached schedule.
func (r *runner) tick(ctx context.Context) {
	start := r.now()
	r.opts.Bus.Publish(eventbus.Event{Type: eventbus.MonitorTick, Key: r.key})

	// A stop during extraction lets the fetch finish or time out on its own.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.ExtractTimeout)
	next, err := r.opts.Source.Fetch(fctx, r.key)
	cancel()

	if err != nil {
		r.log.Warn("monitor tick failed", logx.Err(err), logx.Duration("took", r.now().Sub(start)))
		r.update(func(s *Status) {
			s.Ticks++
			s.Failures++
			s.ConsecutiveFailures++
			s.LastError = err.Error()
			s.LastErrorAt = start
		})
		r.opts.Bus.Publish(eventbus.Event{Type: eventbus.MonitorFailed, Key: r.key, Data: err.Error()})
		// The cached schedule still drives upcoming notices.
		if r.state.Cached != nil && ctx.Err() == nil {
			now := r.now()
			r.scanUpcoming(ctx, now)
			r.state.prune(now, r.opts.DedupWindow)
			r.persist(ctx)
		}
		return
	}
	if ctx.Err() != nil {
		r.log.Debug("monitor stopped during fetch, result discarded")
		return
	}

	now := r.now()
	r.state.LastCheckedAt = now
	if r.state.Cached == nil {
		r.log.Info("monitor cached first schedule", logx.Int("days", len(next)))
	} else if deltas := schedule.Diff(*r.state.Cached, next); len(deltas) > 0 {
		r.log.Info("schedule changed", logx.Int("deltas", len(deltas)))
		r.opts.Bus.Publish(eventbus.Event{Type: eventbus.ScheduleChanged, Key: r.key, Data: deltas})
		r.notify(ctx, FormatChanges(deltas))
	}
	r.state.Cached = &next

	r.scanUpcoming(ctx, now)
	r.state.prune(now, r.opts.DedupWindow)

	r.persist(ctx)
	r.update(func(s *Status) {
		s.Ticks++
		s.ConsecutiveFailures = 0
		s.LastCheckedAt = now
		s.CachedDays = len(next)
	})
}

// scanUpcoming notifies once per slot of today starting within the upcoming
// window, unless the slot was announced less than DedupWindow ago.
func (r *runner) scanUpcoming(ctx context.Context, now time.Time) {
	today, ok := r.state.Cached.Day(schedule.DateOf(now))
	if !ok || !today.HasSlots() {
		return
	}
	var due []string
	for _, slot := range schedule.Upcoming(today, now, r.opts.UpcomingFrom, r.opts.UpcomingTo) {
		k := notifiedKey(today.Date, slot)
		if last, seen := r.state.LastNotified[k]; seen && now.Sub(last) <= r.opts.DedupWindow {
			continue
		}
		r.state.LastNotified[k] = now
		due = append(due, slot)
	}
	if len(due) == 0 {
		return
	}
	r.opts.Bus.Publish(eventbus.Event{Type: eventbus.SlotUpcoming, Key: r.key, Data: due})
	r.notify(ctx, FormatUpcoming(due))
}

func (r *runner) notify(ctx context.Context, text string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.NotifyTimeout)
	defer cancel()
	if err := r.opts.Notifier.Notify(nctx, r.key, text); err != nil {
		r.log.Warn("monitor notification failed", logx.Err(err))
		r.update(func(s *Status) { s.NotifyFailures++ })
		return
	}
	r.update(func(s *Status) { s.Notifications++ })
}

func (r *runner) persist(ctx context.Context) {
	if r.opts.Persister == nil {
		return
	}
	st := r.snapshot()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.opts.Persister.PutMonitor(pctx, r.state.record(r.cadence, st.StartedAt)); err != nil {
		r.log.Warn("monitor state not saved", logx.Err(err))
	}
}
