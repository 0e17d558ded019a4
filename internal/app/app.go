// Package app wires config, logging, storage, scrapers, monitors, the
// notifier and the Telegram transport into one process.
package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"watchbot/internal/config"
	"watchbot/internal/eventbus"
	"watchbot/internal/monitor"
	"watchbot/internal/notifier"
	"watchbot/internal/observability/debugsrv"
	rtsup "watchbot/internal/runtime/supervisor"
	"watchbot/internal/scraper"
	"watchbot/internal/scraper/browser"
	"watchbot/internal/storage"
	kit "watchbot/internal/transport"
	telegram "watchbot/internal/transport/telegram/adapter"
	"watchbot/internal/transport/telegram/router"
	logx "watchbot/pkg/logx"
)

// monitorPriority marks monitor notices as warnings in the notifier.
const monitorPriority = 7

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	stop context.CancelFunc

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	notif   *notifier.Service
	debug   *debugsrv.Service

	shots    *browser.ShotDir
	janitor  *browser.Janitor
	registry *scraper.Registry
	factory  *scraper.Factory
	book     *subjectBook
	monitors *monitor.Manager

	browserCfg browserSettings
	monitorCfg monitorSettings

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The chat sink needs its target before Apply enables it.
	ad.SetLogTarget(logTarget(cfg))
	logSvc, root := logx.New(mapLogConfig(cfg))
	logSvc.SetChatSink(ad)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bcfg, err := mapBrowserConfig(cfg)
	if err != nil {
		return nil, err
	}
	mcfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	reg, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	if err := checkScrapers(cfg, reg); err != nil {
		return nil, err
	}
	env, err := ScraperEnv(cfg, root)
	if err != nil {
		return nil, err
	}
	factory := scraper.NewFactory(reg, env)

	book := newSubjectBook(store)
	subjects := configuredDirectory{book: book, cfg: cfgm.Get}

	var dedup notifier.DedupStore
	if store != nil {
		dedup = store
	}
	notifSvc := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), bus, dedup)

	mopts := monitor.Options{
		Source: &monitor.FactorySource{
			Factory:  factory,
			Subjects: subjects,
			Days:     mcfg.Days,
		},
		Notifier: &notifier.SubjectNotifier{
			Service:  notifSvc,
			Adapter:  ad,
			Subjects: book,
			Priority: monitorPriority,
		},
		Bus:            bus,
		Log:            root,
		Location:       loc,
		DefaultEvery:   mcfg.DefaultEvery,
		MinInterval:    mcfg.MinInterval,
		ExtractTimeout: mcfg.ExtractTimeout,
		UpcomingFrom:   mcfg.UpcomingFrom,
		UpcomingTo:     mcfg.UpcomingTo,
		DedupWindow:    mcfg.DedupWindow,
	}
	if mcfg.PersistState && store != nil {
		mopts.Persister = store
	}
	monitors, err := monitor.NewManager(context.Background(), mopts)
	if err != nil {
		return nil, err
	}

	var auditor router.Auditor
	if store != nil {
		auditor = store
	}
	r := router.New(root.With(logx.String("comp", "commands")), ad,
		router.WithAuditor(auditor),
		router.WithDefaultTimeout(mcfg.ExtractTimeout+time.Minute),
		router.WithTexts(
			"Неизвестная команда, попробуй /help",
			"⛔ Нет доступа",
			"⏳ Бот занят, попробуй позже",
		),
	)
	r.SetAccess(cfg.Telegram.OwnerUserIDs, cfg.Telegram.AllowedUserIDs)
	watch := &watchCommands{
		book:     book,
		subjects: subjects,
		factory:  factory,
		monitors: monitors,
		cfg:      cfgm.Get,
		loc:      loc,
		days:     mcfg.Days,
	}
	r.SetCommands(watch.commands())

	a := &App{
		cfgm:       cfgm,
		root:       root,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		router:     r,
		notif:      notifSvc,
		shots:      env.Shots,
		registry:   reg,
		factory:    factory,
		book:       book,
		monitors:   monitors,
		browserCfg: bcfg,
		monitorCfg: mcfg,
		updates:    make(chan kit.Update, 256),
	}
	a.debug = debugsrv.New(root.With(logx.String("comp", "debug")), a.status)
	return a, nil
}

// runtimeStatus is the document served at the debug /status endpoint.
type runtimeStatus struct {
	Monitors   []monitor.Status `json:"monitors"`
	Goroutines []rtsup.Stats    `json:"goroutines,omitempty"`
	Scrapers   []string         `json:"scrapers_enabled"`
	Storage    bool             `json:"storage"`
	Notifier   bool             `json:"notifier"`
}

func (a *App) status() any {
	st := runtimeStatus{
		Monitors: a.monitors.List(),
		Storage:  a.store != nil,
		Notifier: a.notif.Enabled(),
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	if cfg := a.cfgm.Get(); cfg != nil {
		st.Scrapers = cfg.EnabledScrapers()
	}
	return st
}

// checkScrapers rejects config blocks for scrapers that are not registered.
func checkScrapers(cfg *config.Config, reg *scraper.Registry) error {
	for name := range cfg.Scrapers {
		if _, _, ok := reg.Lookup(name); !ok {
			return fmt.Errorf("scrapers.%s: %w", name, scraper.ErrUnknownScraper)
		}
	}
	return nil
}

// validate is the hot-reload gate: a config that fails here is never applied.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBrowserConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMonitorConfig(cfg); err != nil {
		return err
	}
	if err := mapDebugConfig(cfg).Check(); err != nil {
		return err
	}
	return checkScrapers(cfg, a.registry)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	a.sup = rtsup.New(runCtx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.root)
	a.cfgm.SetValidator(a.validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	if a.browserCfg.ScreenshotMaxAge > 0 {
		j, err := browser.StartJanitor(a.shots, a.browserCfg.CleanupSchedule, a.browserCfg.ScreenshotMaxAge,
			a.root.With(logx.String("comp", "screenshots")))
		if err != nil {
			return err
		}
		a.janitor = j
	}

	if a.monitorCfg.PersistState {
		if a.store == nil {
			a.log.Warn("monitor.persist_state is set but storage is disabled; monitors will not survive restarts")
		} else if n, err := a.monitors.Resume(a.sup.Context()); err != nil {
			a.log.Warn("monitor resume failed", logx.Err(err), logx.Int("resumed", n))
		}
	}

	if err := a.debug.Reconfigure(a.sup.Context(), mapDebugConfig(a.cfgm.Get())); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if e.Key != "" {
					fields = append(fields, logx.String("key", e.Key))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("scrapers", len(a.registry.List())),
		logx.Bool("storage", a.store != nil),
		logx.Bool("notifier", a.notif.Enabled()),
	)
	return nil
}

// restartSections need a process restart to take effect.
var restartSections = []string{"storage", "browser", "timezone", "monitor"}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, scrapersChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(scrapersChanged) > 0 {
		a.log.Debug("scraper config changes detected", logx.Strings("scrapers", scrapersChanged))
	}
	for _, s := range sections {
		if slices.Contains(restartSections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if oldCfg != nil && oldCfg.Telegram.Token != newCfg.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.adapter.SetLogTarget(logTarget(newCfg))
	a.logs.Apply(mapLogConfig(newCfg))
	a.router.SetAccess(newCfg.Telegram.OwnerUserIDs, newCfg.Telegram.AllowedUserIDs)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if slices.Contains(sections, "debug") {
		if err := a.debug.Reconfigure(ctx, mapDebugConfig(newCfg)); err != nil {
			a.log.Warn("debug server reconfigure failed", logx.Err(err))
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.stop()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = rem
			}
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped; no time left", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	// Monitors first: in-flight extractions may still want to notify.
	step("monitors", 5*time.Second, a.monitors.Close)
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("debug", time.Second, a.debug.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("screenshots", time.Second, func(c context.Context) error { a.janitor.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
