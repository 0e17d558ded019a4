package config

import (
	"bytes"
	"encoding/json"
	"maps"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Timezone used for schedule dates and upcoming-slot checks.
	// Defaults to Europe/Kyiv.
	Timezone string `json:"timezone,omitempty"`

	Browser BrowserConfig `json:"browser"`
	Monitor MonitorConfig `json:"monitor"`

	Notifier *NotifierConfig          `json:"notifier,omitempty"`
	Storage  *StorageConfig           `json:"storage,omitempty"`
	Debug    *DebugConfig             `json:"debug,omitempty"`
	Scrapers map[string]ScraperConfig `json:"scrapers"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may use every command. AllowedUserIDs may use the
	// /watch_* commands for their own chat. Both empty means open access.
	OwnerUserIDs   []int64 `json:"owner_user_ids"`
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
	GroupLog       string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// BrowserConfig controls headless browser sessions and screenshot storage.
//
// Headless is a pointer so an omitted value defaults to true.
type BrowserConfig struct {
	Headless      *bool  `json:"headless,omitempty"`
	ExecPath      string `json:"exec_path,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	WindowWidth   int    `json:"window_width,omitempty"`
	WindowHeight  int    `json:"window_height,omitempty"`
	NoSandbox     bool   `json:"no_sandbox,omitempty"`
	LaunchTimeout string `json:"launch_timeout,omitempty"`
	NavTimeout    string `json:"nav_timeout,omitempty"`
	ActionTimeout string `json:"action_timeout,omitempty"`

	ScreenshotDir string `json:"screenshot_dir,omitempty"`
	// ScreenshotMaxAge of "0s" or empty keeps screenshots forever.
	ScreenshotMaxAge string `json:"screenshot_max_age,omitempty"`
	// CleanupSchedule is a cron spec for the screenshot janitor (default "@daily").
	CleanupSchedule string `json:"cleanup_schedule,omitempty"`
}

// MonitorConfig controls schedule monitors.
//
// Defaults (when fields are omitted/zero):
//   - default_interval: "1h"
//   - min_interval: "5m"
//   - extract_timeout: "2m"
//   - upcoming_from/upcoming_to: "15m"/"30m"
//   - dedup_window: "1h"
//   - days: 7
type MonitorConfig struct {
	DefaultInterval string `json:"default_interval,omitempty"`
	MinInterval     string `json:"min_interval,omitempty"`
	ExtractTimeout  string `json:"extract_timeout,omitempty"`
	UpcomingFrom    string `json:"upcoming_from,omitempty"`
	UpcomingTo      string `json:"upcoming_to,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	Days            int    `json:"days,omitempty"`
	// PersistState saves running monitors to storage and resumes them at boot.
	PersistState bool `json:"persist_state,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier runs with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/watchbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the pprof and /status HTTP server. A non-loopback
// addr needs a token unless allow_insecure is set.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// ScraperConfig enables a registered scraper and supplies config defaults
// (site URL, credentials) merged under every subject's own config.
type ScraperConfig struct {
	Enabled  bool              `json:"enabled"`
	Defaults map[string]string `json:"defaults,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos under a scraper block are
// caught on reload.
func (s *ScraperConfig) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled  bool              `json:"enabled"`
		Defaults map[string]string `json:"defaults,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*s = ScraperConfig{Enabled: t.Enabled, Defaults: maps.Clone(t.Defaults)}
	return nil
}

// EnabledScrapers returns the names of enabled scrapers.
func (c *Config) EnabledScrapers() []string {
	var out []string
	for name, sc := range c.Scrapers {
		if sc.Enabled {
			out = append(out, name)
		}
	}
	return out
}
