package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"watchbot/internal/config"
	"watchbot/internal/monitor"
	"watchbot/internal/scraper"
	"watchbot/internal/scraper/outage"
	"watchbot/internal/storage"
	"watchbot/internal/transport/telegram/router"
	logx "watchbot/pkg/logx"
)

// watchCommands implements the /watch_* chat commands on top of the subject
// book, the scraper factory and the monitor manager.
type watchCommands struct {
	book     *subjectBook
	subjects configuredDirectory
	factory  *scraper.Factory
	monitors *monitor.Manager
	cfg      func() *config.Config
	loc      *time.Location
	// days is the /watch_week horizon.
	days int
}

func (w *watchCommands) commands() []router.Command {
	return []router.Command{
		{
			Name:        "watch_setup",
			Description: "настроить адрес",
			Usage:       "/watch_setup <город> <улица> <дом> [черга]",
			Access:      router.AccessAllowed,
			Sensitive:   true,
			Handle:      w.setup,
		},
		{
			Name:        "watch_now",
			Description: "проверить сейчас",
			Access:      router.AccessAllowed,
			Handle:      w.now,
		},
		{
			Name:        "watch_today",
			Description: "график на сегодня",
			Access:      router.AccessAllowed,
			Handle:      w.today,
		},
		{
			Name:        "watch_week",
			Description: "график на неделю",
			Access:      router.AccessAllowed,
			Handle:      w.week,
		},
		{
			Name:        "watch_start",
			Description: "включить уведомления",
			Usage:       "/watch_start [интервал]",
			Access:      router.AccessAllowed,
			Handle:      w.start,
		},
		{
			Name:        "watch_stop",
			Description: "остановить уведомления",
			Access:      router.AccessAllowed,
			Handle:      w.stop,
		},
		{
			Name:        "watch_status",
			Description: "статус мониторинга",
			Access:      router.AccessAllowed,
			Handle:      w.status,
		},
		{
			Name:        "scrapers",
			Description: "список скрейперов",
			Access:      router.AccessAllowed,
			Handle:      w.scrapers,
		},
		{
			Name:        "monitors",
			Description: "все активные мониторы",
			Access:      router.AccessOwnerOnly,
			Handle:      w.monitorList,
		},
	}
}

// setupConfig turns command arguments into a scraper config. The outage
// scraper also accepts the positional form "<city> <street> <building> [queue]".
func setupConfig(name string, args []string) (map[string]string, error) {
	positional := true
	for _, a := range args {
		if strings.Contains(a, "=") {
			positional = false
			break
		}
	}
	if !positional {
		return scraper.ParseAssignments(args)
	}
	if name != outage.Name || len(args) < 3 {
		return nil, errors.New("not enough arguments")
	}
	city, street := args[0], args[1]
	if !strings.HasPrefix(city, "м.") {
		city = "м. " + city
	}
	if !strings.HasPrefix(street, "вул.") {
		street = "вул. " + street
	}
	cfg := map[string]string{"city": city, "street": street, "building": args[2]}
	if len(args) > 3 {
		cfg["queue"] = args[3]
	}
	return cfg, nil
}

func (w *watchCommands) setup(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, setupUsage)
	}
	name := strings.TrimSpace(req.Flags["scraper"])
	if name == "" {
		name = outage.Name
	}
	if _, _, ok := w.factory.Registry().Lookup(name); !ok {
		return req.Reply(ctx, fmt.Sprintf("❌ Неизвестный скрейпер: %s\n\nСписок: /scrapers", name))
	}
	var sc config.ScraperConfig
	if cfg := w.cfg(); cfg != nil {
		sc = cfg.Scrapers[name]
	}
	if !sc.Enabled {
		return req.Reply(ctx, fmt.Sprintf("⚠️ Скрейпер %s отключён в конфигурации", name))
	}

	values, err := setupConfig(name, req.Args)
	if err != nil {
		_ = req.Reply(ctx, setupUsage)
		return err
	}
	if err := w.factory.Validate(name, scraper.Merge(sc.Defaults, values)); err != nil {
		_ = req.Reply(ctx, "❌ Неверные параметры: "+err.Error())
		return err
	}

	sub := storage.Subject{
		Key:      subjectKey(req.Chat),
		Scraper:  name,
		Config:   values,
		ChatID:   req.Chat.ChatID,
		ThreadID: req.Chat.ThreadID,
	}
	if err := w.book.PutSubject(ctx, sub); err != nil {
		_ = req.Reply(ctx, "❌ Не удалось сохранить адрес")
		return err
	}
	req.Log.Info("subject saved", logx.String("key", sub.Key), logx.String("scraper", name))
	return req.Reply(ctx, formatSaved(sub))
}

// subject loads the chat's subject and answers the chat when there is none.
func (w *watchCommands) subject(ctx context.Context, req *router.Request) (storage.Subject, bool, error) {
	sub, ok, err := w.subjects.GetSubject(ctx, subjectKey(req.Chat))
	switch {
	case errors.Is(err, errScraperDisabled):
		return sub, false, req.Reply(ctx, "⚠️ "+err.Error())
	case err != nil:
		_ = req.Reply(ctx, "❌ Произошла ошибка")
		return sub, false, err
	case !ok:
		return sub, false, req.Reply(ctx, textNoSubject)
	}
	return sub, true, nil
}

// run executes op for the chat's subject and replies with render(payload).
func (w *watchCommands) run(ctx context.Context, req *router.Request, progress, op string, p scraper.Params, render func(any) (string, bool)) error {
	sub, ok, err := w.subject(ctx, req)
	if !ok {
		return err
	}
	if progress != "" {
		_ = req.Reply(ctx, progress)
	}
	res, err := w.factory.Run(ctx, sub.Scraper, scraper.Config(sub.Config), op, p)
	if err != nil {
		_ = req.Reply(ctx, "❌ Ошибка: "+err.Error())
		return err
	}
	text, ok := render(res.Payload)
	if !ok {
		return fmt.Errorf("%s/%s: unexpected payload %T", sub.Scraper, op, res.Payload)
	}
	return req.Reply(ctx, text)
}

func (w *watchCommands) now(ctx context.Context, req *router.Request) error {
	return w.run(ctx, req, "🔍 Проверяю текущий статус...", outage.OpCheckNow, nil, func(p any) (string, bool) {
		r, ok := p.(outage.NowReport)
		return formatNow(r), ok
	})
}

func (w *watchCommands) today(ctx context.Context, req *router.Request) error {
	return w.run(ctx, req, "📅 Получаю график на сегодня...", outage.OpCheckToday, nil, func(p any) (string, bool) {
		r, ok := p.(outage.TodayReport)
		return formatToday(r), ok
	})
}

func (w *watchCommands) week(ctx context.Context, req *router.Request) error {
	days := w.days
	if days <= 0 {
		days = outage.DefaultDays
	}
	params := scraper.Params{"days": fmt.Sprint(days)}
	return w.run(ctx, req, "📅 Получаю график на неделю...", outage.OpGetSchedule, params, func(p any) (string, bool) {
		switch r := p.(type) {
		case outage.ScheduleReport:
			return formatWeek(r), true
		case monitor.ScheduleSnapshotter:
			return monitor.FormatSchedule(r.ScheduleSnapshot()), true
		}
		return "", false
	})
}

func (w *watchCommands) start(ctx context.Context, req *router.Request) error {
	key := subjectKey(req.Chat)
	if _, ok, err := w.subject(ctx, req); !ok {
		return err
	}
	every := req.Flags["every"]
	if every == "" && len(req.Args) > 0 {
		every = strings.Join(req.Args, " ")
	}
	if err := w.monitors.Start(ctx, key, every); err != nil {
		_ = req.Reply(ctx, "❌ "+err.Error())
		return err
	}
	return req.Reply(ctx, formatStarted(w.monitors.Status(key)))
}

func (w *watchCommands) stop(ctx context.Context, req *router.Request) error {
	err := w.monitors.Stop(ctx, subjectKey(req.Chat))
	switch {
	case errors.Is(err, monitor.ErrNotRunning):
		return req.Reply(ctx, "⚪ Мониторинг не был запущен.\n\nЗапустить: /watch_start")
	case err != nil:
		_ = req.Reply(ctx, "❌ "+err.Error())
		return err
	}
	return req.Reply(ctx, "⏸️ Мониторинг остановлен.\n\nЗапустить снова: /watch_start")
}

func (w *watchCommands) status(ctx context.Context, req *router.Request) error {
	key := subjectKey(req.Chat)
	var sub *storage.Subject
	if s, ok, err := w.book.GetSubject(ctx, key); err != nil {
		return err
	} else if ok {
		sub = &s
	}
	return req.Reply(ctx, formatStatus(sub, w.monitors.Status(key), w.loc))
}

func (w *watchCommands) scrapers(ctx context.Context, req *router.Request) error {
	enabled := map[string]bool{}
	if cfg := w.cfg(); cfg != nil {
		for _, name := range cfg.EnabledScrapers() {
			enabled[name] = true
		}
	}
	return req.Reply(ctx, formatScrapers(w.factory.Registry().List(), enabled))
}

func (w *watchCommands) monitorList(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, formatMonitors(w.monitors.List(), w.loc))
}
