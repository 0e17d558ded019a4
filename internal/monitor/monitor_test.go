package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"watchbot/internal/schedule"
	"watchbot/internal/storage"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (r *recorder) Notify(_ context.Context, key, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, key+": "+text)
	return r.err
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

// scriptedSource hands out one scripted result per Fetch. Each call is
// announced on calls and blocks until the test releases it through gate.
type scriptedSource struct {
	mu       sync.Mutex
	n        int
	script   []func() (schedule.Schedule, error)
	calls    chan int
	gate     chan struct{}
	checkErr error
}

func newScripted(script ...func() (schedule.Schedule, error)) *scriptedSource {
	return &scriptedSource{script: script, calls: make(chan int, 16), gate: make(chan struct{})}
}

func (s *scriptedSource) Check(context.Context, string) error { return s.checkErr }

func (s *scriptedSource) Fetch(context.Context, string) (schedule.Schedule, error) {
	s.mu.Lock()
	s.n++
	n := s.n
	s.mu.Unlock()
	if n > len(s.script) {
		return nil, errors.New("script exhausted")
	}
	s.calls <- n
	if s.gate != nil {
		<-s.gate
	}
	return s.script[n-1]()
}

func ret(s schedule.Schedule) func() (schedule.Schedule, error) {
	return func() (schedule.Schedule, error) { return s, nil }
}

func day(date string, slots ...string) schedule.DaySchedule {
	if slots == nil {
		slots = []string{}
	}
	return schedule.DaySchedule{Date: schedule.MustDate(date), Slots: slots}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestManager(t *testing.T, src Source, n Notifier, opts Options) *Manager {
	t.Helper()
	opts.Source = src
	opts.Notifier = n
	opts.Location = time.UTC
	if opts.Now == nil {
		opts.Now = fixedClock(time.Date(2024, 11, 21, 0, 0, 0, 0, time.UTC))
	}
	m, err := NewManager(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func TestParseCadence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		every time.Duration
	}{
		{raw: "45m", every: 45 * time.Minute},
		{raw: "interval:90s", every: 90 * time.Second},
		{raw: "every: 2h", every: 2 * time.Hour},
		{raw: "01:30", every: 90 * time.Minute},
		{raw: "3600", every: time.Hour},
		{raw: "10ms", every: 10 * time.Millisecond},
		{raw: "@every 1h", every: time.Hour},
		{raw: "*/30 * * * *"},
		{raw: "cron:0 8 * * *"},
	}
	base := time.Date(2024, 11, 21, 7, 10, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			c, err := ParseCadence(tt.raw)
			if err != nil {
				t.Fatalf("ParseCadence(%q): %v", tt.raw, err)
			}
			if c.Every != tt.every {
				t.Fatalf("Every = %v, want %v", c.Every, tt.every)
			}
			if !c.Next(base).After(base) {
				t.Fatalf("Next(%v) = %v, want later", base, c.Next(base))
			}
		})
	}

	c, _ := ParseCadence("*/30 * * * *")
	if got, want := c.Next(base), time.Date(2024, 11, 21, 7, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("cron Next = %v, want %v", got, want)
	}

	for _, bad := range []string{"", "soon", "0", "-5m", "01:75", "cron:", "cron:61 * * * *"} {
		if _, err := ParseCadence(bad); err == nil {
			t.Fatalf("ParseCadence(%q) should fail", bad)
		}
	}
}

func TestUpcomingDedupAcrossTicks(t *testing.T) {
	t.Parallel()
	clock := time.Date(2024, 11, 21, 12, 40, 0, 0, time.UTC)
	rec := &recorder{}
	src := &scriptedSource{
		script: []func() (schedule.Schedule, error){
			ret(schedule.Schedule{day("2024-11-21", "13:00-13:30", "13:10-13:40", "20:00-21:00")}),
			ret(schedule.Schedule{day("2024-11-21", "13:00-13:30", "13:10-13:40", "20:00-21:00")}),
			ret(schedule.Schedule{day("2024-11-21", "13:00-13:30", "13:10-13:40", "20:00-21:00")}),
		},
		calls: make(chan int, 4),
	}
	opts := Options{Source: src, Notifier: rec, Location: time.UTC, Now: func() time.Time { return clock }}.withDefaults()
	c, _ := ParseCadence("5m")
	r := newRunner("home", c, State{}, clock, opts)
	ctx := context.Background()

	r.tick(ctx)
	msgs := rec.messages()
	if len(msgs) != 1 {
		t.Fatalf("first tick sent %d messages, want 1: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "13:00-13:30") || !strings.Contains(msgs[0], "13:10-13:40") || strings.Contains(msgs[0], "20:00") {
		t.Fatalf("upcoming notice = %q", msgs[0])
	}

	clock = clock.Add(4 * time.Minute)
	r.tick(ctx)
	if got := len(rec.messages()); got != 1 {
		t.Fatalf("second tick inside the dedup window sent a notice (total %d)", got)
	}
	if len(r.state.LastNotified) != 2 {
		t.Fatalf("LastNotified = %v", r.state.LastNotified)
	}

	clock = clock.Add(2 * time.Hour)
	r.tick(ctx)
	if len(r.state.LastNotified) != 0 {
		t.Fatalf("stale stamps not pruned: %v", r.state.LastNotified)
	}
	if st := r.snapshot(); st.Ticks != 3 || st.Notifications != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestFailedFetchStillAnnouncesUpcoming(t *testing.T) {
	t.Parallel()
	clock := time.Date(2024, 11, 21, 12, 0, 0, 0, time.UTC)
	rec := &recorder{}
	src := &scriptedSource{
		script: []func() (schedule.Schedule, error){
			ret(schedule.Schedule{day("2024-11-21", "12:50-14:00", "20:00-21:00")}),
			func() (schedule.Schedule, error) { return nil, errors.New("site down") },
			func() (schedule.Schedule, error) { return nil, errors.New("site down") },
		},
		calls: make(chan int, 4),
	}
	opts := Options{Source: src, Notifier: rec, Location: time.UTC, Now: func() time.Time { return clock }}.withDefaults()
	c, _ := ParseCadence("1h")
	r := newRunner("home", c, State{}, clock, opts)
	ctx := context.Background()

	r.tick(ctx)
	if got := rec.messages(); len(got) != 0 {
		t.Fatalf("first tick sent %q, slot is not upcoming yet", got)
	}

	clock = clock.Add(30 * time.Minute)
	r.tick(ctx)
	msgs := rec.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "12:50-14:00") {
		t.Fatalf("failed tick notices = %q", msgs)
	}

	clock = clock.Add(5 * time.Minute)
	r.tick(ctx)
	if got := len(rec.messages()); got != 1 {
		t.Fatalf("dedup ignored on failed tick (total %d)", got)
	}
	if st := r.snapshot(); st.Failures != 2 || st.ConsecutiveFailures != 2 || st.Notifications != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestScenarioTimeoutOnThirdTick(t *testing.T) {
	t.Parallel()
	s1 := schedule.Schedule{day("2024-11-21", "13:00-13:30")}
	s2 := schedule.Schedule{day("2024-11-21", "13:00-13:30", "18:00-18:30")}
	s3 := schedule.Schedule{day("2024-11-21", "13:00-13:30", "18:00-18:30"), day("2024-11-22", "09:00-10:00")}
	timeout := func() (schedule.Schedule, error) {
		return nil, fmt.Errorf("wait table: %w", context.DeadlineExceeded)
	}
	src := newScripted(ret(s1), ret(s1), timeout, ret(s2), ret(s2), ret(s2), ret(s3), ret(s3), ret(s3), ret(s3))
	rec := &recorder{}
	m := newTestManager(t, src, rec, Options{})

	if err := m.Start(context.Background(), "home", "10ms"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 1; i <= 10; i++ {
		n := <-src.calls
		if n != i {
			t.Fatalf("fetch #%d, want #%d", n, i)
		}
		switch n {
		case 4:
			st := m.Status("home")
			if !st.Running || st.Failures != 1 || st.Ticks != 3 {
				t.Fatalf("status after tick 3 = %+v", st)
			}
			if !strings.Contains(st.LastError, "deadline exceeded") {
				t.Fatalf("LastError = %q", st.LastError)
			}
		case 8:
			if st := m.Status("home"); st.ConsecutiveFailures != 0 || st.Ticks != 7 {
				t.Fatalf("status after tick 7 = %+v", st)
			}
		}
		src.gate <- struct{}{}
	}

	msgs := rec.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d notifications, want 2: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "➕ Добавлены: 18:00-18:30") || strings.Contains(msgs[0], "Убраны") {
		t.Fatalf("first change notice = %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "2024-11-22") || !strings.Contains(msgs[1], "Добавлены отключения: 09:00-10:00") {
		t.Fatalf("second change notice = %q", msgs[1])
	}
}

func TestScenarioStopMidWaitThenRestartFresh(t *testing.T) {
	t.Parallel()
	first := schedule.Schedule{day("2024-11-21", "13:00-13:30")}
	second := schedule.Schedule{day("2024-11-21", "13:00-13:30", "18:00-18:30")}
	src := newScripted(ret(first), ret(second))
	src.gate = nil
	rec := &recorder{}
	m := newTestManager(t, src, rec, Options{})
	ctx := context.Background()

	if err := m.Start(ctx, "home", "1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-src.calls
	waitFor(t, "first tick", func() bool { return m.Status("home").Ticks == 1 })

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.Stop(stopCtx, "home"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := m.Status("home"); st.Running || st.Ticks != 1 || st.LastCheckedAt.IsZero() {
		t.Fatalf("status after stop = %+v", st)
	}
	if err := m.Stop(stopCtx, "home"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop = %v, want ErrNotRunning", err)
	}

	if err := m.Start(ctx, "home", "1h"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if n := <-src.calls; n != 2 {
		t.Fatalf("fetch #%d after restart, want #2", n)
	}
	waitFor(t, "first tick after restart", func() bool { return m.Status("home").Ticks == 1 })

	if msgs := rec.messages(); len(msgs) != 0 {
		t.Fatalf("restarted monitor diffed against a stale cache: %q", msgs)
	}
	select {
	case n := <-src.calls:
		t.Fatalf("unexpected fetch #%d", n)
	default:
	}
}

func TestStartValidation(t *testing.T) {
	t.Parallel()
	src := newScripted(ret(schedule.Schedule{day("2024-11-21")}))
	src.gate = nil
	m := newTestManager(t, src, &recorder{}, Options{MinInterval: time.Minute})
	ctx := context.Background()

	if err := m.Start(ctx, "home", "soon"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("bad cadence = %v", err)
	}
	if err := m.Start(ctx, "home", "10s"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("interval below minimum = %v", err)
	}
	if err := m.Start(ctx, " ", "1h"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("empty key = %v", err)
	}

	src.checkErr = errors.New("unknown subject \"home\"")
	if err := m.Start(ctx, "home", "1h"); !errors.Is(err, ErrConfiguration) || !strings.Contains(err.Error(), "unknown subject") {
		t.Fatalf("failed check = %v", err)
	}
	if m.Running("home") {
		t.Fatal("monitor started despite configuration error")
	}

	src.checkErr = nil
	if err := m.Start(ctx, "home", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(ctx, "home", "2h"); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}
	<-src.calls
	if got := m.List(); len(got) != 1 || got[0].Every != DefaultEvery {
		t.Fatalf("List = %+v", got)
	}
}

type memPersister struct {
	mu   sync.Mutex
	recs map[string]storage.MonitorRecord
	puts int
}

func (p *memPersister) PutMonitor(_ context.Context, r storage.MonitorRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs[r.Key] = r
	p.puts++
	return nil
}

func (p *memPersister) DeleteMonitor(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.recs, key)
	return nil
}

func (p *memPersister) ListMonitors(context.Context) ([]storage.MonitorRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []storage.MonitorRecord
	for _, r := range p.recs {
		out = append(out, r)
	}
	return out, nil
}

func (p *memPersister) get(key string) (storage.MonitorRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.recs[key]
	return r, ok
}

func TestResumeKeepsCacheAndStopForgets(t *testing.T) {
	t.Parallel()
	cached := schedule.Schedule{day("2024-11-21", "13:00-13:30")}
	fresh := schedule.Schedule{day("2024-11-21", "13:00-13:30", "18:00-18:30")}
	p := &memPersister{recs: map[string]storage.MonitorRecord{
		"home": {Key: "home", Every: "1h", Cached: &cached},
		"bad":  {Key: "bad", Every: "whenever"},
	}}
	src := newScripted(ret(fresh))
	src.gate = nil
	rec := &recorder{}
	m := newTestManager(t, src, rec, Options{Persister: p})
	ctx := context.Background()

	n, err := m.Resume(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Resume = %d, %v; want 1, nil", n, err)
	}
	<-src.calls
	waitFor(t, "resumed tick", func() bool { return m.Status("home").Ticks == 1 })

	if msgs := rec.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "18:00-18:30") {
		t.Fatalf("resumed monitor should diff against the persisted cache, got %q", msgs)
	}
	saved, ok := p.get("home")
	if !ok || saved.Cached == nil {
		t.Fatalf("record after tick = %+v", saved)
	}
	if diff := cmp.Diff(fresh, *saved.Cached); diff != "" {
		t.Fatalf("persisted cache (-want +got):\n%s", diff)
	}

	if err := m.Stop(ctx, "home"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := p.get("home"); ok {
		t.Fatal("Stop should delete the persisted record")
	}
}

func TestNotifyFailureIsCounted(t *testing.T) {
	t.Parallel()
	clock := time.Date(2024, 11, 21, 12, 40, 0, 0, time.UTC)
	rec := &recorder{err: errors.New("chat unreachable")}
	src := &scriptedSource{
		script: []func() (schedule.Schedule, error){ret(schedule.Schedule{day("2024-11-21", "13:00-13:30")})},
		calls:  make(chan int, 1),
	}
	opts := Options{Source: src, Notifier: rec, Location: time.UTC, Now: fixedClock(clock)}.withDefaults()
	c, _ := ParseCadence("1h")
	r := newRunner("home", c, State{}, clock, opts)
	r.tick(context.Background())

	st := r.snapshot()
	if st.NotifyFailures != 1 || st.Notifications != 0 || st.Failures != 0 {
		t.Fatalf("status = %+v", st)
	}
	if len(r.state.LastNotified) != 1 {
		t.Fatal("a failed delivery still stamps the slot")
	}
}
