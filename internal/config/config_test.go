package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 10s
logging:
  level: debug
  console: true
timezone: UTC
browser:
  headless: false
  nav_timeout: 40s
  screenshot_dir: ./shots
monitor:
  default_interval: 30m
  days: 7
  persist_state: true
storage:
  driver: sqlite
  path: ./data/watchbot.db
scrapers:
  outage:
    enabled: true
    defaults:
      url: https://example.org/shutdowns
  report:
    enabled: false
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Browser.Headless == nil || *cfg.Browser.Headless {
		t.Fatalf("browser.headless = %v, want explicit false", cfg.Browser.Headless)
	}
	want := map[string]ScraperConfig{
		"outage": {Enabled: true, Defaults: map[string]string{"url": "https://example.org/shutdowns"}},
		"report": {},
	}
	if diff := cmp.Diff(want, cfg.Scrapers); diff != "" {
		t.Fatalf("scrapers (-want +got):\n%s", diff)
	}
	if got := cfg.EnabledScrapers(); len(got) != 1 || got[0] != "outage" {
		t.Fatalf("EnabledScrapers = %v", got)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "UTC" {
		t.Fatalf("Location = %v, %v", loc, err)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, path, body, want string
	}{
		{"unknown top-level field", "c.json", `{"telegram":{"token":"x"},"plugins":{}}`, "unknown field"},
		{"unknown scraper field", "c.json", `{"scrapers":{"outage":{"enabled":true,"urll":"x"}}}`, "unknown field"},
		{"trailing data", "c.json", `{"telegram":{"token":"x"}} {}`, "trailing data"},
		{"bad yaml", "c.yml", "telegram: [", "yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Decode err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t"}, Timezone: "UTC"}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"minimal", func(*Config) {}, true},
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, false},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, false},
		{"bad duration", func(c *Config) { c.Monitor.ExtractTimeout = "soon" }, false},
		{"negative duration", func(c *Config) { c.Browser.NavTimeout = "-1s" }, false},
		{"days too large", func(c *Config) { c.Monitor.Days = 15 }, false},
		{"upcoming window inverted", func(c *Config) { c.Monitor.UpcomingFrom, c.Monitor.UpcomingTo = "30m", "15m" }, false},
		{"sqlite without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, false},
		{"file storage", func(c *Config) { c.Storage = &StorageConfig{Driver: "file", Path: "data/state.json"} }, true},
		{"unknown driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, false},
		{"negative workers", func(c *Config) { c.Notifier = &NotifierConfig{Enabled: true, Workers: -1} }, false},
		{"notifier bad retry", func(c *Config) { c.Notifier = &NotifierConfig{RetryBase: "fast"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if (err == nil) != tt.ok {
				t.Fatalf("Validate = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"telegram":{"token":"t"},"timezone":"UTC","monitor":{"days":7}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatal("unchanged file should not publish")
	}

	write(`{"telegram":{"token":"t"},"timezone":"UTC","monitor":{"days":3}}`)
	if !m.reload(ctx) {
		t.Fatal("changed file should publish")
	}
	if got := (<-sub).Monitor.Days; got != 3 {
		t.Fatalf("published days = %d, want 3", got)
	}

	write(`{"telegram":{"token":"t"},"timezone":"UTC","monitor":{"days":99}}`)
	if m.reload(ctx) {
		t.Fatal("invalid file should not publish")
	}
	if got := m.Get().Monitor.Days; got != 3 {
		t.Fatalf("current days = %d, want previous 3", got)
	}

	m.SetValidator(func(context.Context, *Config) error { return context.Canceled })
	write(`{"telegram":{"token":"t"},"timezone":"UTC","monitor":{"days":5}}`)
	if m.reload(ctx) {
		t.Fatal("validator rejection should not publish")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{
		Telegram: TelegramConfig{Token: "secret-a"},
		Monitor:  MonitorConfig{Days: 7},
		Scrapers: map[string]ScraperConfig{"outage": {Enabled: true}, "report": {Enabled: true}},
	}
	b := &Config{
		Telegram: TelegramConfig{Token: "secret-a"},
		Monitor:  MonitorConfig{Days: 3},
		Scrapers: map[string]ScraperConfig{
			"outage": {Enabled: true, Defaults: map[string]string{"url": "u"}},
			"report": {Enabled: true},
			"extra":  {},
		},
	}
	sections, _, scrapers := SummarizeConfigChange(a, b)
	if diff := cmp.Diff([]string{"monitor", "scrapers"}, sections); diff != "" {
		t.Fatalf("sections (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"extra", "outage"}, scrapers); diff != "" {
		t.Fatalf("scrapers (-want +got):\n%s", diff)
	}
	if s, _, _ := SummarizeConfigChange(b, b); len(s) != 0 {
		t.Fatalf("identical configs reported changes: %v", s)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 90s ", 90 * time.Second, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"1.5d", 0, true},
		{"-1m", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDurationField("browser.screenshot_max_age", tc.raw)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tc.raw, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Fatalf("%q: got %s want %s", tc.raw, got, tc.want)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("default not applied: %s", d)
	}
}

func TestDecodeSniffsFormat(t *testing.T) {
	t.Parallel()
	yml, err := Decode("watchbot.conf", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml by content: %v", err)
	}
	js, err := Decode("watchbot.conf", []byte(`{"telegram":{"token":"123:abc"},"timezone":"UTC"}`))
	if err != nil {
		t.Fatalf("json by content: %v", err)
	}
	if yml.Timezone != "UTC" || js.Timezone != "UTC" {
		t.Fatalf("timezones: yaml=%q json=%q", yml.Timezone, js.Timezone)
	}
	if fingerprint(yml) == "" || fingerprint(yml) == fingerprint(js) {
		t.Fatal("fingerprints must be set and differ")
	}
}
