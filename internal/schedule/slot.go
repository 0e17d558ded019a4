package schedule

import (
	"regexp"
	"strconv"
	"time"
)

// Slot is a parsed slot label such as "18:00-18:30" or "18:00".
type Slot struct {
	Label    string
	StartMin int
	EndMin   int
	HasEnd   bool
}

var reSlot = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*(?:[-–—]\s*(\d{1,2}):(\d{2}))?\s*$`)

func ParseSlot(label string) (Slot, bool) {
	m := reSlot.FindStringSubmatch(label)
	if m == nil {
		return Slot{}, false
	}
	start, ok := clockMinutes(m[1], m[2], false)
	if !ok {
		return Slot{}, false
	}
	s := Slot{Label: label, StartMin: start}
	if m[3] != "" {
		end, ok := clockMinutes(m[3], m[4], true)
		if !ok || end <= start {
			return Slot{}, false
		}
		s.EndMin = end
		s.HasEnd = true
	}
	return s, true
}

func clockMinutes(hh, mm string, allowMidnightEnd bool) (int, bool) {
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m > 59 {
		return 0, false
	}
	if h == 24 && m == 0 && allowMidnightEnd {
		return 24 * 60, true
	}
	if h > 23 {
		return 0, false
	}
	return h*60 + m, true
}

// StartOn returns the slot start on date d in loc.
func (s Slot) StartOn(d Date, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, s.StartMin, 0, 0, loc)
}

// Contains reports whether t falls inside the slot on t's own date.
// Slots without an end match the whole starting hour.
func (s Slot) Contains(t time.Time) bool {
	if !s.HasEnd {
		return t.Hour() == s.StartMin/60
	}
	cur := t.Hour()*60 + t.Minute()
	return cur >= s.StartMin && cur < s.EndMin
}

// Upcoming returns slots of day whose start lies within [now+from, now+to].
// Unparseable labels are skipped.
func Upcoming(day DaySchedule, now time.Time, from, to time.Duration) []string {
	var out []string
	for _, label := range day.Slots {
		s, ok := ParseSlot(label)
		if !ok {
			continue
		}
		lead := s.StartOn(day.Date, now.Location()).Sub(now)
		if lead >= from && lead <= to {
			out = append(out, label)
		}
	}
	return out
}

// Active returns slots of day that contain now.
func Active(day DaySchedule, now time.Time) []string {
	if DateOf(now) != day.Date {
		return nil
	}
	var out []string
	for _, label := range day.Slots {
		if s, ok := ParseSlot(label); ok && s.Contains(now) {
			out = append(out, label)
		}
	}
	return out
}
