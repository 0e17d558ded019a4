package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without a time or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool { return d == Date{} }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// DaySchedule is the set of outage slots announced for one date.
type DaySchedule struct {
	Date  Date     `json:"date"`
	Label string   `json:"label,omitempty"`
	Slots []string `json:"slots"`
}

func (d DaySchedule) HasSlots() bool { return len(d.Slots) > 0 }

// Schedule is ordered by ascending date with at most one entry per date.
type Schedule []DaySchedule

func (s Schedule) Day(date Date) (DaySchedule, bool) {
	for _, d := range s {
		if d.Date == date {
			return d, true
		}
	}
	return DaySchedule{}, false
}

func (s Schedule) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i-1].Date.Before(s[i].Date) {
			return fmt.Errorf("schedule out of order at %s (after %s)", s[i].Date, s[i-1].Date)
		}
	}
	return nil
}

// Normalize sorts days by date, merges duplicate dates and canonicalizes slots.
func Normalize(days []DaySchedule) Schedule {
	byDate := make(map[Date]int, len(days))
	out := make(Schedule, 0, len(days))
	for _, d := range days {
		if i, ok := byDate[d.Date]; ok {
			out[i].Slots = SlotSet(append(out[i].Slots, d.Slots...)...)
			if out[i].Label == "" {
				out[i].Label = d.Label
			}
			continue
		}
		byDate[d.Date] = len(out)
		out = append(out, DaySchedule{Date: d.Date, Label: d.Label, Slots: SlotSet(d.Slots...)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Window returns exactly n consecutive days starting at from. Days missing
// in s are filled with empty slot sets; days outside the window are dropped.
func Window(s Schedule, from Date, n int) Schedule {
	if n <= 0 {
		return Schedule{}
	}
	out := make(Schedule, 0, n)
	for i := range n {
		date := from.AddDays(i)
		if d, ok := s.Day(date); ok {
			out = append(out, d)
			continue
		}
		out = append(out, DaySchedule{Date: date, Slots: []string{}})
	}
	return out
}

// SlotSet trims, dedups and sorts slot labels. Empty labels are dropped.
func SlotSet(slots ...string) []string {
	seen := make(map[string]struct{}, len(slots))
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
