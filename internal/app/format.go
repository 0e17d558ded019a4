package app

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"watchbot/internal/monitor"
	"watchbot/internal/schedule"
	"watchbot/internal/scraper"
	"watchbot/internal/scraper/outage"
	"watchbot/internal/storage"
)

const (
	textNoSubject = "⚠️ Адрес не настроен.\n\nИспользуй /watch_setup для настройки."
	weekSlotLimit = 3
)

const setupUsage = `🔌 Настройка мониторинга

Использование:
/watch_setup <город> <улица> <дом> [черга]
/watch_setup street=<улица> building=<дом> [queue=<черга>] [city=<город>]

Примеры:
/watch_setup "м. Дніпро" "вул. Калинова" 47 1.2
/watch_setup Дніпро Калинова 47

Другой скрейпер: /watch_setup --scraper report username=... password=...`

func dayTitle(d schedule.DaySchedule) string {
	if d.Label != "" {
		return d.Label
	}
	return d.Date.String()
}

func formatAddress(sub storage.Subject) string {
	if sub.Scraper != outage.Name {
		keys := make([]string, 0, len(sub.Config))
		for k := range sub.Config {
			if !isSecretKey(k) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		fmt.Fprintf(&b, "🧩 Скрейпер: %s\n", sub.Scraper)
		for _, k := range keys {
			fmt.Fprintf(&b, "• %s: %s\n", k, sub.Config[k])
		}
		return b.String()
	}
	var b strings.Builder
	if city := sub.Config["city"]; city != "" {
		fmt.Fprintf(&b, "📍 Город: %s\n", city)
	}
	fmt.Fprintf(&b, "📍 Адрес: %s, %s\n", sub.Config["street"], sub.Config["building"])
	if q := sub.Config["queue"]; q != "" {
		fmt.Fprintf(&b, "⚡ Черга: %s\n", q)
	}
	return b.String()
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "password") || strings.Contains(k, "token") || strings.Contains(k, "secret")
}

func formatSaved(sub storage.Subject) string {
	var b strings.Builder
	b.WriteString("✅ Адрес сохранен!\n\n")
	b.WriteString(formatAddress(sub))
	b.WriteString("\nЧто дальше?\n")
	b.WriteString("• /watch_now - проверить сейчас\n")
	b.WriteString("• /watch_today - график на сегодня\n")
	b.WriteString("• /watch_week - график на неделю\n")
	b.WriteString("• /watch_start - включить уведомления")
	return b.String()
}

func formatNow(r outage.NowReport) string {
	var b strings.Builder
	b.WriteString("🔌 Статус электроэнергии\n\n")
	fmt.Fprintf(&b, "⏰ Текущее время: %s\n\n", r.Time)
	switch {
	case !r.Found:
		b.WriteString("❓ На сегодня график не найден\n")
	case r.OutageNow:
		fmt.Fprintf(&b, "🔴 Сейчас отключение: %s\n", strings.Join(r.Active, ", "))
	default:
		b.WriteString("🟢 Сейчас свет есть\n")
	}
	if len(r.Today) == 0 {
		b.WriteString("\n✅ Сегодня отключений не запланировано!")
		return b.String()
	}
	b.WriteString("\n📅 График на сегодня:\n")
	for _, s := range r.Today {
		icon := "🕐"
		if slices.Contains(r.Active, s) {
			icon = "⚡"
		}
		fmt.Fprintf(&b, "%s %s\n", icon, s)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatToday(r outage.TodayReport) string {
	var b strings.Builder
	b.WriteString("📅 График отключений на сегодня\n\n")
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "⚠️ %s\n\n", w)
	}
	if r.Day != nil && r.Day.HasSlots() {
		fmt.Fprintf(&b, "Дата: %s\n\n", dayTitle(*r.Day))
		b.WriteString("⚡ Отключения:\n")
		for _, s := range r.Day.Slots {
			fmt.Fprintf(&b, "• %s\n", s)
		}
	} else {
		b.WriteString("✅ Отключений не запланировано!\n")
	}
	b.WriteString("\n💡 Совет: включи мониторинг /watch_start для автоматических уведомлений")
	return b.String()
}

func formatWeek(r outage.ScheduleReport) string {
	var b strings.Builder
	b.WriteString("📅 График отключений на неделю\n\n")
	fmt.Fprintf(&b, "📍 Адрес: %s, %s\n", r.Address.Street, r.Address.Building)
	if r.Address.Queue != "" {
		fmt.Fprintf(&b, "⚡ Черга: %s\n", r.Address.Queue)
	}
	b.WriteByte('\n')
	for i, w := range r.Warnings {
		if i == 2 {
			break
		}
		fmt.Fprintf(&b, "⚠️ %s\n\n", truncateRunes(w, 100))
	}
	if len(r.Days) == 0 {
		b.WriteString("График пуст")
		return b.String()
	}
	for _, d := range r.Days {
		if !d.HasSlots() {
			fmt.Fprintf(&b, "%s ✅\n\n", dayTitle(d))
			continue
		}
		fmt.Fprintf(&b, "%s\n", dayTitle(d))
		for i, s := range d.Slots {
			if i == weekSlotLimit {
				fmt.Fprintf(&b, "   ...и еще %d\n", len(d.Slots)-weekSlotLimit)
				break
			}
			fmt.Fprintf(&b, "⚡ %s\n", s)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func formatStarted(st monitor.Status) string {
	var b strings.Builder
	b.WriteString("✅ Мониторинг запущен!\n\n")
	b.WriteString("🔔 Я буду уведомлять тебя о:\n")
	b.WriteString("• Изменениях в графике отключений\n")
	b.WriteString("• Приближающихся отключениях (за 15-30 минут)\n\n")
	fmt.Fprintf(&b, "⏰ Проверка: %s\n\n", st.Every)
	b.WriteString("Команды:\n")
	b.WriteString("• /watch_now - проверить сейчас\n")
	b.WriteString("• /watch_stop - остановить мониторинг\n")
	b.WriteString("• /watch_status - статус")
	return b.String()
}

func formatStatus(sub *storage.Subject, st monitor.Status, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("📊 Статус мониторинга\n\n")
	if sub != nil {
		b.WriteString(formatAddress(*sub))
	} else {
		b.WriteString("⚠️ Адрес не настроен\n")
	}
	b.WriteByte('\n')

	stamp := func(t time.Time) string { return t.In(loc).Format("02.01 15:04") }
	if st.Running {
		b.WriteString("🟢 Мониторинг: активен\n")
		fmt.Fprintf(&b, "⏰ Проверка: %s\n", st.Every)
		if !st.NextCheckAt.IsZero() {
			fmt.Fprintf(&b, "⏭ Следующая проверка: %s\n", stamp(st.NextCheckAt))
		}
	} else {
		b.WriteString("⚪ Мониторинг: не активен\n")
	}
	if !st.LastCheckedAt.IsZero() {
		fmt.Fprintf(&b, "🔍 Последняя проверка: %s\n", stamp(st.LastCheckedAt))
	}
	if st.Ticks > 0 {
		fmt.Fprintf(&b, "📈 Проверок: %d, ошибок: %d, уведомлений: %d\n", st.Ticks, st.Failures, st.Notifications)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "❌ Последняя ошибка: %s\n", truncateRunes(st.LastError, 200))
	}

	b.WriteString("\nКоманды:\n")
	switch {
	case sub == nil:
		b.WriteString("• /watch_setup - настроить адрес")
	case st.Running:
		b.WriteString("• /watch_now - проверить сейчас\n")
		b.WriteString("• /watch_stop - остановить")
	default:
		b.WriteString("• /watch_now - проверить сейчас\n")
		b.WriteString("• /watch_start - запустить")
	}
	return b.String()
}

func formatScrapers(descs []scraper.Descriptor, enabled map[string]bool) string {
	if len(descs) == 0 {
		return "Скрейперы не зарегистрированы"
	}
	var b strings.Builder
	b.WriteString("🧩 Скрейперы\n")
	for _, d := range descs {
		mark := "⚪"
		if enabled[d.Name] {
			mark = "🟢"
		}
		fmt.Fprintf(&b, "\n%s %s v%s\n%s\nОперации: %s\n", mark, d.Name, d.Version, d.Description, strings.Join(d.Operations, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMonitors(list []monitor.Status, loc *time.Location) string {
	if len(list) == 0 {
		return "Нет активных мониторов"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🛰 Активные мониторы: %d\n", len(list))
	for _, st := range list {
		last := "-"
		if !st.LastCheckedAt.IsZero() {
			last = st.LastCheckedAt.In(loc).Format("02.01 15:04")
		}
		fmt.Fprintf(&b, "\n• %s every=%s last=%s ticks=%d failures=%d", st.Key, st.Every, last, st.Ticks, st.Failures)
		if st.ConsecutiveFailures > 0 {
			fmt.Fprintf(&b, " streak=%d", st.ConsecutiveFailures)
		}
	}
	return b.String()
}
