package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"watchbot/internal/config"
	"watchbot/internal/monitor"
	"watchbot/internal/schedule"
	"watchbot/internal/scraper"
	"watchbot/internal/scraper/outage"
	"watchbot/internal/storage"
	kit "watchbot/internal/transport"
	"watchbot/internal/transport/telegram/router"
	logx "watchbot/pkg/logx"
)

type chatLog struct {
	mu   sync.Mutex
	sent []string
}

func (c *chatLog) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *chatLog) Stop(context.Context) error                     { return nil }
func (c *chatLog) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *chatLog) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1]
}

// fakeOutage answers outage operations with canned payloads.
type fakeOutage struct {
	cfg scraper.Config
}

func (s *fakeOutage) Descriptor() scraper.Descriptor { return outage.Descriptor }
func (s *fakeOutage) ValidateConfig() error          { return s.cfg.Require("street", "building") }
func (s *fakeOutage) Acquire(context.Context) error  { return nil }
func (s *fakeOutage) Authenticate(context.Context) error {
	if s.cfg.Get("url") == "" {
		return errors.New("url default not merged")
	}
	return nil
}
func (s *fakeOutage) Release() error { return nil }

func (s *fakeOutage) Extract(_ context.Context, op string, _ scraper.Params) (scraper.Result, error) {
	today := schedule.DaySchedule{
		Date:  schedule.MustDate("2024-11-21"),
		Label: "21.11 ЧТ",
		Slots: []string{"08:00-09:00", "13:00-14:00", "17:00-18:00", "21:00-22:00"},
	}
	switch op {
	case outage.OpCheckNow:
		return scraper.OK(outage.NowReport{
			Date: today.Date, Time: "13:15", Found: true, OutageNow: true,
			Active: []string{"13:00-14:00"}, Today: today.Slots,
		}), nil
	case outage.OpCheckToday:
		return scraper.OK(outage.TodayReport{Date: today.Date, Day: &today}), nil
	case outage.OpGetSchedule:
		return scraper.OK(outage.ScheduleReport{
			Address: outage.Address{Street: s.cfg.Get("street"), Building: s.cfg.Get("building")},
			Days: schedule.Schedule{
				today,
				{Date: schedule.MustDate("2024-11-22"), Label: "22.11 ПТ"},
			},
		}), nil
	}
	return scraper.Result{}, scraper.Unsupported(outage.Name, op)
}

type noteRecorder struct {
	mu    sync.Mutex
	notes []string
}

func (r *noteRecorder) Notify(_ context.Context, _, text string) error {
	r.mu.Lock()
	r.notes = append(r.notes, text)
	r.mu.Unlock()
	return nil
}

func newTestCommands(t *testing.T, enabled bool) *watchCommands {
	t.Helper()
	reg := scraper.NewRegistry()
	reg.MustRegister(outage.Descriptor, func(cfg scraper.Config, _ scraper.Env) (scraper.Scraper, error) {
		return &fakeOutage{cfg: cfg}, nil
	})
	factory := scraper.NewFactory(reg, scraper.Env{Location: time.UTC})

	cfg := &config.Config{Scrapers: map[string]config.ScraperConfig{
		outage.Name: {Enabled: enabled, Defaults: map[string]string{"url": "https://example.test/shutdowns"}},
	}}
	cfgFn := func() *config.Config { return cfg }
	book := newSubjectBook(nil)
	subjects := configuredDirectory{book: book, cfg: cfgFn}

	mgr, err := monitor.NewManager(context.Background(), monitor.Options{
		Source:   &monitor.FactorySource{Factory: factory, Subjects: subjects},
		Notifier: &noteRecorder{},
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2024, 11, 21, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return &watchCommands{
		book:     book,
		subjects: subjects,
		factory:  factory,
		monitors: mgr,
		cfg:      cfgFn,
		loc:      time.UTC,
	}
}

func subjectFor(chatID int64) storage.Subject {
	return storage.Subject{
		Key:     subjectKey(kit.ChatTarget{ChatID: chatID}),
		Scraper: outage.Name,
		Config:  map[string]string{"street": "вул. Калинова", "building": "47"},
		ChatID:  chatID,
	}
}

func newRequest(chat *chatLog, args []string, flags map[string]string) *router.Request {
	if flags == nil {
		flags = map[string]string{}
	}
	return &router.Request{
		Chat:    kit.ChatTarget{ChatID: 42},
		FromID:  7,
		Args:    args,
		Flags:   flags,
		Adapter: chat,
		Log:     logx.Nop(),
	}
}

func TestSetupConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		scraper string
		args    []string
		want    map[string]string
		wantErr bool
	}{
		{
			name:    "positional adds prefixes",
			scraper: outage.Name,
			args:    []string{"Дніпро", "Калинова", "47", "1.2"},
			want:    map[string]string{"city": "м. Дніпро", "street": "вул. Калинова", "building": "47", "queue": "1.2"},
		},
		{
			name:    "positional keeps prefixes",
			scraper: outage.Name,
			args:    []string{"м. Дніпро", "вул. Калинова", "47"},
			want:    map[string]string{"city": "м. Дніпро", "street": "вул. Калинова", "building": "47"},
		},
		{
			name:    "assignments",
			scraper: "report",
			args:    []string{"username=ops", "password=x"},
			want:    map[string]string{"username": "ops", "password": "x"},
		},
		{name: "too few positionals", scraper: outage.Name, args: []string{"Дніпро", "Калинова"}, wantErr: true},
		{name: "positional for other scraper", scraper: "report", args: []string{"a", "b", "c"}, wantErr: true},
		{name: "mixed assignment", scraper: outage.Name, args: []string{"street=Main", "47"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := setupConfig(tt.scraper, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("setupConfig err = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); !tt.wantErr && diff != "" {
				t.Fatalf("config (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWatchCommandsFlow(t *testing.T) {
	t.Parallel()
	w := newTestCommands(t, true)
	chat := &chatLog{}
	ctx := context.Background()

	if err := w.now(ctx, newRequest(chat, nil, nil)); err != nil {
		t.Fatalf("now without subject: %v", err)
	}
	if chat.last() != textNoSubject {
		t.Fatalf("now without subject replied %q", chat.last())
	}

	if err := w.setup(ctx, newRequest(chat, []string{"Дніпро", "Калинова", "47"}, nil)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !strings.Contains(chat.last(), "Адрес сохранен") {
		t.Fatalf("setup replied %q", chat.last())
	}
	sub, ok, err := w.book.GetSubject(ctx, "chat:42")
	if err != nil || !ok {
		t.Fatalf("subject not stored: ok=%v err=%v", ok, err)
	}
	if sub.ChatID != 42 || sub.Scraper != outage.Name || sub.Config["street"] != "вул. Калинова" {
		t.Fatalf("stored subject = %+v", sub)
	}
	if _, found := sub.Config["url"]; found {
		t.Fatal("scraper defaults must not be copied into the stored subject")
	}

	if err := w.now(ctx, newRequest(chat, nil, nil)); err != nil {
		t.Fatalf("now: %v", err)
	}
	if got := chat.last(); !strings.Contains(got, "Сейчас отключение: 13:00-14:00") || !strings.Contains(got, "⚡ 13:00-14:00") {
		t.Fatalf("now replied %q", got)
	}

	if err := w.today(ctx, newRequest(chat, nil, nil)); err != nil {
		t.Fatalf("today: %v", err)
	}
	if got := chat.last(); !strings.Contains(got, "Дата: 21.11 ЧТ") || !strings.Contains(got, "• 21:00-22:00") {
		t.Fatalf("today replied %q", got)
	}

	if err := w.week(ctx, newRequest(chat, nil, nil)); err != nil {
		t.Fatalf("week: %v", err)
	}
	if got := chat.last(); !strings.Contains(got, "...и еще 1") || !strings.Contains(got, "22.11 ПТ ✅") {
		t.Fatalf("week replied %q", got)
	}

	if err := w.start(ctx, newRequest(chat, []string{"30m"}, nil)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := chat.last(); !strings.Contains(got, "Мониторинг запущен") || !strings.Contains(got, "30m") {
		t.Fatalf("start replied %q", got)
	}
	if !w.monitors.Running("chat:42") {
		t.Fatal("monitor not running after /watch_start")
	}

	if err := w.status(ctx, newRequest(chat, nil, nil)); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := chat.last(); !strings.Contains(got, "Мониторинг: активен") {
		t.Fatalf("status replied %q", got)
	}

	if err := w.stop(ctx, newRequest(chat, nil, nil)); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := chat.last(); !strings.Contains(got, "Мониторинг остановлен") {
		t.Fatalf("stop replied %q", got)
	}
	if err := w.stop(ctx, newRequest(chat, nil, nil)); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if got := chat.last(); !strings.Contains(got, "не был запущен") {
		t.Fatalf("second stop replied %q", got)
	}
}

func TestSetupRejectsBadInput(t *testing.T) {
	t.Parallel()
	w := newTestCommands(t, true)
	chat := &chatLog{}
	ctx := context.Background()

	if err := w.setup(ctx, newRequest(chat, []string{"city=Kyiv"}, nil)); !errors.Is(err, scraper.ErrInvalidConfig) {
		t.Fatalf("setup without street = %v, want ErrInvalidConfig", err)
	}
	if err := w.setup(ctx, newRequest(chat, []string{"street=Main"}, map[string]string{"scraper": "nope"})); err != nil {
		t.Fatalf("unknown scraper: %v", err)
	}
	if !strings.Contains(chat.last(), "Неизвестный скрейпер") {
		t.Fatalf("unknown scraper replied %q", chat.last())
	}
	if _, ok, _ := w.book.GetSubject(ctx, "chat:42"); ok {
		t.Fatal("rejected setup must not store a subject")
	}
}

func TestDisabledScraper(t *testing.T) {
	t.Parallel()
	w := newTestCommands(t, false)
	chat := &chatLog{}
	ctx := context.Background()

	if err := w.setup(ctx, newRequest(chat, []string{"Дніпро", "Калинова", "47"}, nil)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !strings.Contains(chat.last(), "отключён") {
		t.Fatalf("setup with disabled scraper replied %q", chat.last())
	}

	// A subject saved while the scraper was enabled stays but cannot run.
	if err := w.book.PutSubject(ctx, subjectFor(42)); err != nil {
		t.Fatal(err)
	}
	if err := w.now(ctx, newRequest(chat, nil, nil)); err != nil {
		t.Fatalf("now: %v", err)
	}
	if !strings.Contains(chat.last(), errScraperDisabled.Error()) {
		t.Fatalf("now with disabled scraper replied %q", chat.last())
	}
	if err := w.start(ctx, newRequest(chat, nil, nil)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if w.monitors.Running("chat:42") {
		t.Fatal("monitor started for a disabled scraper")
	}
}

func TestSubjectKey(t *testing.T) {
	t.Parallel()
	if got := subjectKey(kit.ChatTarget{ChatID: -100123}); got != "chat:-100123" {
		t.Fatalf("subjectKey = %q", got)
	}
	if got := subjectKey(kit.ChatTarget{ChatID: 5, ThreadID: 9}); got != "chat:5:9" {
		t.Fatalf("subjectKey with thread = %q", got)
	}
}

func TestMapConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}

	n, err := mapNotifierConfig(cfg)
	if err != nil || !n.Enabled || n.Workers != 2 || n.RetryBase != 500*time.Millisecond {
		t.Fatalf("notifier defaults = %+v, %v", n, err)
	}
	cfg.Notifier = &config.NotifierConfig{Enabled: false, Workers: 4, RetryBase: "1s"}
	if n, err = mapNotifierConfig(cfg); err != nil || n.Enabled || n.Workers != 4 || n.RetryBase != time.Second {
		t.Fatalf("notifier override = %+v, %v", n, err)
	}
	cfg.Notifier.RetryBase = "soon"
	if _, err := mapNotifierConfig(cfg); err == nil {
		t.Fatal("bad retry_base accepted")
	}

	b, err := mapBrowserConfig(cfg)
	if err != nil || !b.Options.Headless || b.CleanupSchedule != "@daily" || b.ScreenshotDir == "" {
		t.Fatalf("browser defaults = %+v, %v", b, err)
	}
	off := false
	cfg.Browser = config.BrowserConfig{Headless: &off, ScreenshotMaxAge: "72h"}
	if b, err = mapBrowserConfig(cfg); err != nil || b.Options.Headless || b.ScreenshotMaxAge != 72*time.Hour {
		t.Fatalf("browser override = %+v, %v", b, err)
	}

	m, err := mapMonitorConfig(cfg)
	if err != nil || m.DefaultEvery != monitor.DefaultEvery || m.MinInterval != 5*time.Minute {
		t.Fatalf("monitor defaults = %+v, %v", m, err)
	}
	cfg.Monitor.DefaultInterval = "every:never"
	if _, err := mapMonitorConfig(cfg); err == nil {
		t.Fatal("bad default_interval accepted")
	}

	cfg.Storage = &config.StorageConfig{Driver: "sqlite"}
	if _, _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("sqlite without path accepted")
	}
	cfg.Storage = &config.StorageConfig{Driver: "none"}
	if _, enabled, err := mapStorageConfig(cfg); err != nil || enabled {
		t.Fatalf("driver none: enabled=%v err=%v", enabled, err)
	}

	if d := mapDebugConfig(cfg); d.Enabled {
		t.Fatal("debug server enabled without a section")
	}
	cfg.Debug = &config.DebugConfig{Enabled: true, Addr: " 0.0.0.0:6060 "}
	if err := mapDebugConfig(cfg).Check(); err == nil {
		t.Fatal("public debug addr without token accepted")
	}
	cfg.Debug.Token = "t"
	if err := mapDebugConfig(cfg).Check(); err != nil {
		t.Fatalf("debug with token: %v", err)
	}
}

func TestLogTarget(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Telegram.GroupLog = "-1001"
	cfg.Logging.Telegram = config.LoggingTelegram{Enabled: true, ThreadID: 3}
	if diff := cmp.Diff(kit.ChatTarget{ChatID: -1001, ThreadID: 3}, logTarget(cfg)); diff != "" {
		t.Fatalf("logTarget (-want +got):\n%s", diff)
	}
	if !mapLogConfig(cfg).Chat.Enabled {
		t.Fatal("chat sink should be enabled with a target")
	}
	cfg.Telegram.GroupLog = "ops-chat"
	if !logTarget(cfg).IsZero() || mapLogConfig(cfg).Chat.Enabled {
		t.Fatal("unparsable group_log must disable the chat sink")
	}
}
