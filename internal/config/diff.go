package config

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	logx "watchbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the names of scrapers whose enable flag or defaults changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!slices.Equal(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		!slices.Equal(oldCfg.Telegram.AllowedUserIDs, newCfg.Telegram.AllowedUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Int("telegram.allowed_count", len(newCfg.Telegram.AllowedUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if !reflect.DeepEqual(oldCfg.Browser, newCfg.Browser) {
		changed = append(changed, "browser")
		headless := newCfg.Browser.Headless == nil || *newCfg.Browser.Headless
		attrs = append(attrs,
			logx.Bool("browser.headless", headless),
			logx.Bool("browser.exec_path_set", strings.TrimSpace(newCfg.Browser.ExecPath) != ""),
			logx.String("browser.nav_timeout", newCfg.Browser.NavTimeout),
			logx.String("browser.screenshot_dir", newCfg.Browser.ScreenshotDir),
			logx.String("browser.screenshot_max_age", newCfg.Browser.ScreenshotMaxAge),
		)
	}

	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.default_interval", newCfg.Monitor.DefaultInterval),
			logx.String("monitor.min_interval", newCfg.Monitor.MinInterval),
			logx.String("monitor.extract_timeout", newCfg.Monitor.ExtractTimeout),
			logx.Int("monitor.days", newCfg.Monitor.Days),
			logx.Bool("monitor.persist_state", newCfg.Monitor.PersistState),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.String("notifier.dedup_window", n.DedupWindow),
			)
		} else {
			attrs = append(attrs, logx.Bool("notifier.section", false))
		}
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if s := newCfg.Storage; s != nil {
			attrs = append(attrs,
				logx.String("storage.driver", s.Driver),
				logx.String("storage.path", s.Path),
			)
		} else {
			attrs = append(attrs, logx.Bool("storage.section", false))
		}
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		if d := newCfg.Debug; d != nil {
			attrs = append(attrs,
				logx.Bool("debug.enabled", d.Enabled),
				logx.String("debug.addr", d.Addr),
				logx.Bool("debug.token_set", d.Token != ""),
			)
		} else {
			attrs = append(attrs, logx.Bool("debug.section", false))
		}
	}

	scrapersChanged := diffScrapers(oldCfg.Scrapers, newCfg.Scrapers)
	if len(scrapersChanged) > 0 {
		changed = append(changed, "scrapers")
		attrs = append(attrs, logx.Strings("scrapers.changed", scrapersChanged))
	}

	return changed, attrs, scrapersChanged
}

// diffScrapers lists scraper names added, removed, toggled or with changed
// defaults, sorted.
func diffScrapers(a, b map[string]ScraperConfig) []string {
	names := map[string]struct{}{}
	for k := range a {
		names[k] = struct{}{}
	}
	for k := range b {
		names[k] = struct{}{}
	}
	var out []string
	for _, name := range slices.Sorted(maps.Keys(names)) {
		oa, okA := a[name]
		ob, okB := b[name]
		if okA != okB || oa.Enabled != ob.Enabled || !maps.Equal(oa.Defaults, ob.Defaults) {
			out = append(out, name)
		}
	}
	return out
}
