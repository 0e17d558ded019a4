package app

import (
	"time"

	"watchbot/internal/config"
	"watchbot/internal/scraper"
	"watchbot/internal/scraper/browser"
	"watchbot/internal/scraper/outage"
	"watchbot/internal/scraper/report"
	logx "watchbot/pkg/logx"
)

// NewRegistry returns a registry holding every built-in scraper.
func NewRegistry() (*scraper.Registry, error) {
	reg := scraper.NewRegistry()
	if err := outage.Register(reg); err != nil {
		return nil, err
	}
	if err := report.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// ScraperEnv builds the shared scraper environment from the browser section
// and timezone of cfg.
func ScraperEnv(cfg *config.Config, log logx.Logger) (scraper.Env, error) {
	loc, err := cfg.Location()
	if err != nil {
		return scraper.Env{}, err
	}
	bcfg, err := mapBrowserConfig(cfg)
	if err != nil {
		return scraper.Env{}, err
	}
	return scraper.Env{
		Browser:  browser.NewLauncher(bcfg.Options, log.With(logx.String("comp", "browser"))),
		Shots:    browser.NewShotDir(bcfg.ScreenshotDir),
		Log:      log.With(logx.String("comp", "scraper")),
		Location: loc,
		Now:      time.Now,
	}, nil
}

// ScraperConfig overlays over on the configured defaults of name.
func ScraperConfig(cfg *config.Config, name string, over map[string]string) scraper.Config {
	var defaults map[string]string
	if cfg != nil {
		defaults = cfg.Scrapers[name].Defaults
	}
	return scraper.Merge(defaults, over)
}
