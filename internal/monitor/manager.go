package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"watchbot/internal/eventbus"
	"watchbot/internal/runtime/supervisor"
	logx "watchbot/pkg/logx"
)

// Manager owns the set of running monitors, at most one per key.
type Manager struct {
	opts Options
	log  logx.Logger
	sup  *supervisor.Supervisor

	mu    sync.Mutex
	tasks map[string]*task
	last  map[string]Status
}

type task struct {
	r      *runner
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds a Manager whose loops live until parent is canceled or
// Close is called.
func NewManager(parent context.Context, opts Options) (*Manager, error) {
	if opts.Source == nil {
		return nil, errors.New("monitor: source is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("monitor: notifier is required")
	}
	opts = opts.withDefaults()
	log := opts.Log.With(logx.String("comp", "monitor"))
	opts.Log = log
	return &Manager{
		opts:  opts,
		log:   log,
		sup:   supervisor.New(parent, supervisor.WithLogger(log)),
		tasks: map[string]*task{},
		last:  map[string]Status{},
	}, nil
}

// Start begins monitoring key every cadence tick. An empty every uses the
// default cadence. Starting a running monitor is a no-op.
func (m *Manager) Start(ctx context.Context, key, every string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: subject key required", ErrConfiguration)
	}
	if strings.TrimSpace(every) == "" {
		every = m.opts.DefaultEvery
	}
	c, err := ParseCadence(every)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if m.opts.MinInterval > 0 && c.Every > 0 && c.Every < m.opts.MinInterval {
		return fmt.Errorf("%w: interval %s is below the minimum %s", ErrConfiguration, c.Every, m.opts.MinInterval)
	}

	if m.Running(key) {
		m.log.Warn("monitor already running", logx.String("key", key))
		return nil
	}
	if err := m.opts.Source.Check(ctx, key); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	started, err := m.launch(key, c, State{Key: key}, m.opts.Now())
	if err != nil {
		return err
	}
	if !started {
		m.log.Warn("monitor already running", logx.String("key", key))
	}
	return nil
}

func (m *Manager) launch(key string, c Cadence, st State, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sup.Context().Err() != nil {
		return false, ErrClosed
	}
	if _, ok := m.tasks[key]; ok {
		return false, nil
	}

	ctx, cancel := context.WithCancel(m.sup.Context())
	t := &task{r: newRunner(key, c, st, startedAt, m.opts), cancel: cancel, done: make(chan struct{})}
	m.tasks[key] = t
	delete(m.last, key)

	m.sup.Go("monitor:"+key, func(context.Context) error {
		defer close(t.done)
		defer m.finish(key, t)
		t.r.run(ctx)
		return nil
	})

	m.log.Info("monitor started", logx.String("key", key), logx.String("every", c.Spec))
	m.opts.Bus.Publish(eventbus.Event{Type: eventbus.MonitorStarted, Key: key, Data: c.Spec})
	return true, nil
}

func (m *Manager) finish(key string, t *task) {
	t.cancel()
	st := t.r.snapshot()
	st.Running = false
	st.NextCheckAt = time.Time{}

	m.mu.Lock()
	if m.tasks[key] == t {
		delete(m.tasks, key)
	}
	m.last[key] = st
	m.mu.Unlock()
}

// Stop cancels the monitor for key and waits for its loop to exit. The
// persisted record is removed so a later Start begins with an empty cache.
func (m *Manager) Stop(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	m.mu.Lock()
	t, ok := m.tasks[key]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
		return fmt.Errorf("stop monitor %s: %w", key, ctx.Err())
	}

	if m.opts.Persister != nil {
		if err := m.opts.Persister.DeleteMonitor(ctx, key); err != nil {
			m.log.Warn("monitor record not deleted", logx.String("key", key), logx.Err(err))
		}
	}
	m.log.Info("monitor stopped", logx.String("key", key))
	m.opts.Bus.Publish(eventbus.Event{Type: eventbus.MonitorStopped, Key: key})
	return nil
}

func (m *Manager) Running(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[strings.TrimSpace(key)]
	return ok
}

// Status reports the monitor for key. A stopped monitor keeps its last
// counters with Running false.
func (m *Manager) Status(key string) Status {
	key = strings.TrimSpace(key)
	m.mu.Lock()
	t, ok := m.tasks[key]
	last, hasLast := m.last[key]
	m.mu.Unlock()
	if ok {
		return t.r.snapshot()
	}
	if hasLast {
		return last
	}
	return Status{Key: key}
}

// List returns the status of every running monitor ordered by key.
func (m *Manager) List() []Status {
	m.mu.Lock()
	runners := make([]*runner, 0, len(m.tasks))
	for _, t := range m.tasks {
		runners = append(runners, t.r)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.snapshot())
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// Resume restarts every persisted monitor with its cached schedule and dedup
// stamps. Records whose cadence no longer parses are skipped.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	if m.opts.Persister == nil {
		return 0, nil
	}
	recs, err := m.opts.Persister.ListMonitors(ctx)
	if err != nil {
		return 0, fmt.Errorf("list monitors: %w", err)
	}
	n := 0
	for _, rec := range recs {
		c, err := ParseCadence(rec.Every)
		if err != nil {
			m.log.Warn("skipping persisted monitor", logx.String("key", rec.Key), logx.Err(err))
			continue
		}
		startedAt := rec.StartedAt
		if startedAt.IsZero() {
			startedAt = m.opts.Now()
		}
		ok, err := m.launch(rec.Key, c, stateFromRecord(rec), startedAt)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		m.log.Info("monitors resumed", logx.Int("count", n))
	}
	return n, nil
}

// Close stops every loop without touching persisted records, so they can be
// resumed on the next start.
func (m *Manager) Close(ctx context.Context) error {
	return m.sup.Stop(ctx)
}
