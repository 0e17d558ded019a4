package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"watchbot/internal/config"
	"watchbot/internal/monitor"
	"watchbot/internal/notifier"
	"watchbot/internal/observability/debugsrv"
	"watchbot/internal/scraper/browser"
	"watchbot/internal/storage"
	kit "watchbot/internal/transport"
	logx "watchbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && logTarget(cfg).ChatID != 0,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget resolves telegram.group_log. An unparsable id disables the chat sink.
func logTarget(cfg *config.Config) kit.ChatTarget {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return kit.ChatTarget{}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return kit.ChatTarget{}
	}
	return kit.ChatTarget{ChatID: id, ThreadID: cfg.Logging.Telegram.ThreadID}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig fills defaults for an omitted notifier section; the
// notifier is enabled unless configured otherwise.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     15 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 2000,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}

	switch {
	case out.Workers < 0:
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	case out.QueueSize < 0:
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	case out.RatePerSec < 0:
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	case out.RetryMax < 0:
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	case out.DedupMaxEntries < 0:
		return notifier.Config{}, fmt.Errorf("notifier.dedup_max_entries must be >= 0")
	}
	return out, nil
}

// browserSettings is the browser section with durations parsed.
type browserSettings struct {
	Options          browser.Options
	ScreenshotDir    string
	ScreenshotMaxAge time.Duration
	CleanupSchedule  string
}

func mapBrowserConfig(cfg *config.Config) (browserSettings, error) {
	b := cfg.Browser
	out := browserSettings{
		Options: browser.Options{
			Headless:     b.Headless == nil || *b.Headless,
			ExecPath:     strings.TrimSpace(b.ExecPath),
			UserAgent:    strings.TrimSpace(b.UserAgent),
			WindowWidth:  b.WindowWidth,
			WindowHeight: b.WindowHeight,
			NoSandbox:    b.NoSandbox,
		},
		ScreenshotDir:   strings.TrimSpace(b.ScreenshotDir),
		CleanupSchedule: strings.TrimSpace(b.CleanupSchedule),
	}
	if out.ScreenshotDir == "" {
		out.ScreenshotDir = "./screenshots"
	}
	if out.CleanupSchedule == "" {
		out.CleanupSchedule = "@daily"
	}

	var err error
	if out.Options.LaunchTimeout, err = config.ParseDurationField("browser.launch_timeout", b.LaunchTimeout); err != nil {
		return browserSettings{}, err
	}
	if out.Options.NavTimeout, err = config.ParseDurationField("browser.nav_timeout", b.NavTimeout); err != nil {
		return browserSettings{}, err
	}
	if out.Options.ActionTimeout, err = config.ParseDurationField("browser.action_timeout", b.ActionTimeout); err != nil {
		return browserSettings{}, err
	}
	if out.ScreenshotMaxAge, err = config.ParseDurationField("browser.screenshot_max_age", b.ScreenshotMaxAge); err != nil {
		return browserSettings{}, err
	}
	return out, nil
}

// monitorSettings is the monitor section with durations parsed. Zero values
// fall through to the monitor package defaults.
type monitorSettings struct {
	DefaultEvery   string
	MinInterval    time.Duration
	ExtractTimeout time.Duration
	UpcomingFrom   time.Duration
	UpcomingTo     time.Duration
	DedupWindow    time.Duration
	Days           int
	PersistState   bool
}

func mapMonitorConfig(cfg *config.Config) (monitorSettings, error) {
	m := cfg.Monitor
	out := monitorSettings{
		DefaultEvery: strings.TrimSpace(m.DefaultInterval),
		Days:         m.Days,
		PersistState: m.PersistState,
	}
	if out.DefaultEvery == "" {
		out.DefaultEvery = monitor.DefaultEvery
	}
	if _, err := monitor.ParseCadence(out.DefaultEvery); err != nil {
		return monitorSettings{}, fmt.Errorf("monitor.default_interval: %w", err)
	}

	var err error
	if out.MinInterval, err = config.ParseDurationOrDefault("monitor.min_interval", m.MinInterval, 5*time.Minute); err != nil {
		return monitorSettings{}, err
	}
	if out.ExtractTimeout, err = config.ParseDurationField("monitor.extract_timeout", m.ExtractTimeout); err != nil {
		return monitorSettings{}, err
	}
	if out.UpcomingFrom, err = config.ParseDurationField("monitor.upcoming_from", m.UpcomingFrom); err != nil {
		return monitorSettings{}, err
	}
	if out.UpcomingTo, err = config.ParseDurationField("monitor.upcoming_to", m.UpcomingTo); err != nil {
		return monitorSettings{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("monitor.dedup_window", m.DedupWindow); err != nil {
		return monitorSettings{}, err
	}
	return out, nil
}

func mapDebugConfig(cfg *config.Config) debugsrv.Config {
	d := cfg.Debug
	if d == nil {
		return debugsrv.Config{}
	}
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
	}
}
