package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimezone is used when Config.Timezone is empty.
const DefaultTimezone = "Europe/Kyiv"

// Location resolves Timezone, falling back to DefaultTimezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// Validate rejects configs that cannot be applied. It runs on every load,
// so a broken hot reload keeps the previous config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}

	durations := [][2]string{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"browser.launch_timeout", cfg.Browser.LaunchTimeout},
		{"browser.nav_timeout", cfg.Browser.NavTimeout},
		{"browser.action_timeout", cfg.Browser.ActionTimeout},
		{"browser.screenshot_max_age", cfg.Browser.ScreenshotMaxAge},
		{"monitor.min_interval", cfg.Monitor.MinInterval},
		{"monitor.extract_timeout", cfg.Monitor.ExtractTimeout},
		{"monitor.upcoming_from", cfg.Monitor.UpcomingFrom},
		{"monitor.upcoming_to", cfg.Monitor.UpcomingTo},
		{"monitor.dedup_window", cfg.Monitor.DedupWindow},
	}
	if n := cfg.Notifier; n != nil {
		durations = append(durations,
			[2]string{"notifier.retry_base", n.RetryBase},
			[2]string{"notifier.retry_max_delay", n.RetryMaxDelay},
			[2]string{"notifier.dedup_window", n.DedupWindow},
		)
	}
	if s := cfg.Storage; s != nil {
		durations = append(durations, [2]string{"storage.busy_timeout", s.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d[0], d[1]); err != nil {
			return err
		}
	}

	if cfg.Browser.WindowWidth < 0 || cfg.Browser.WindowHeight < 0 {
		return errors.New("browser.window_width/window_height must be >= 0")
	}

	if err := validateMonitor(cfg.Monitor); err != nil {
		return err
	}
	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			return errors.New("notifier: workers, queue_size, rate_per_sec, retry_max and dedup_max_entries must be >= 0")
		}
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return errors.New("storage.path is required when storage.driver=sqlite")
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", s.Driver)
		}
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return errors.New("logging.telegram.rate_per_sec must be >= 0")
	}
	for name := range cfg.Scrapers {
		if strings.TrimSpace(name) == "" {
			return errors.New("scrapers: empty scraper name")
		}
	}
	return nil
}

func validateMonitor(m MonitorConfig) error {
	if m.Days < 0 || m.Days > 14 {
		return fmt.Errorf("monitor.days must be within 1..14 (got %d)", m.Days)
	}
	from, _ := ParseDurationField("monitor.upcoming_from", m.UpcomingFrom)
	to, _ := ParseDurationField("monitor.upcoming_to", m.UpcomingTo)
	if from > 0 && to > 0 && from >= to {
		return fmt.Errorf("monitor.upcoming_from (%s) must be before upcoming_to (%s)", from, to)
	}
	return nil
}
