package monitor

import (
	"strings"

	"watchbot/internal/schedule"
)

// FormatChanges renders one change notification for all deltas of a tick.
func FormatChanges(deltas []schedule.Delta) string {
	var b strings.Builder
	b.WriteString("⚡ Изменения в графике отключений!\n\n")
	for _, d := range deltas {
		b.WriteString("📅 ")
		b.WriteString(dayTitle(d.Date, d.Label))
		b.WriteByte('\n')
		switch d.Kind {
		case schedule.DayAdded:
			b.WriteString("➕ Добавлены отключения: ")
			b.WriteString(strings.Join(d.Added, ", "))
			b.WriteByte('\n')
		case schedule.DayModified:
			if len(d.Added) > 0 {
				b.WriteString("➕ Добавлены: ")
				b.WriteString(strings.Join(d.Added, ", "))
				b.WriteByte('\n')
			}
			if len(d.Removed) > 0 {
				b.WriteString("➖ Убраны: ")
				b.WriteString(strings.Join(d.Removed, ", "))
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString("Проверь актуальный график: /watch_today")
	return b.String()
}

// FormatUpcoming renders the heads-up for slots starting soon.
func FormatUpcoming(slots []string) string {
	var b strings.Builder
	b.WriteString("⚠️ Скоро отключение света!\n\n")
	b.WriteString("Через 15-30 минут отключат свет:\n")
	for _, s := range slots {
		b.WriteString("⚡ ")
		b.WriteString(s)
		b.WriteByte('\n')
	}
	b.WriteString("\nПодготовься заранее! 💡")
	return b.String()
}

// FormatDay renders one day of a schedule for status and on-demand commands.
func FormatDay(d schedule.DaySchedule) string {
	title := dayTitle(d.Date, d.Label)
	if !d.HasSlots() {
		return "📅 " + title + "\n✅ Отключений не запланировано"
	}
	return "📅 " + title + "\n🔌 " + strings.Join(d.Slots, ", ")
}

// FormatSchedule renders every day of s separated by blank lines.
func FormatSchedule(s schedule.Schedule) string {
	if len(s) == 0 {
		return "График пуст"
	}
	parts := make([]string, 0, len(s))
	for _, d := range s {
		parts = append(parts, FormatDay(d))
	}
	return strings.Join(parts, "\n\n")
}

func dayTitle(date schedule.Date, label string) string {
	if label == "" || label == date.String() {
		return date.String()
	}
	return date.String() + " (" + label + ")"
}
