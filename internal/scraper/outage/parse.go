package outage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"watchbot/internal/schedule"
)

// Page selectors of the shutdown schedule widget.
const (
	selScheduleTable = "table"
	selHeaderCells   = "thead tr th"
	selDayRows       = "tbody tr"
	selOutageMark    = "svg, i, .shutdown-icon"
	selWarnings      = ".alert-warning, .warning-box"
)

var dayMonthRe = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})`)

// Snapshot is what one page load yields.
type Snapshot struct {
	Days     schedule.Schedule
	Warnings []string
}

// ParsePage parses a rendered page body into a normalized schedule and the
// warnings shown above it. now anchors year inference for "DD.MM" labels.
func ParsePage(html string, now time.Time) (Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse page: %w", err)
	}

	var snap Snapshot
	doc.Find(selWarnings).Each(func(_ int, s *goquery.Selection) {
		if text := collapseSpace(s.Text()); text != "" {
			snap.Warnings = append(snap.Warnings, text)
		}
	})

	tbl := doc.Find(selScheduleTable).First()
	if tbl.Length() == 0 {
		return snap, fmt.Errorf("schedule table not found")
	}
	snap.Days = parseTable(tbl, now)
	return snap, nil
}

func parseTable(tbl *goquery.Selection, now time.Time) schedule.Schedule {
	var headers []string
	tbl.Find(selHeaderCells).Each(func(i int, th *goquery.Selection) {
		if i == 0 {
			return
		}
		headers = append(headers, collapseSpace(th.Text()))
	})

	var days []schedule.DaySchedule
	tbl.Find(selDayRows).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return
		}
		label := collapseSpace(cells.First().Text())
		date, ok := ParseDayLabel(label, now)
		if !ok {
			return
		}
		slots := []string{}
		cells.Slice(1, cells.Length()).Each(func(i int, td *goquery.Selection) {
			if td.Find(selOutageMark).Length() == 0 {
				return
			}
			if i < len(headers) && headers[i] != "" {
				slots = append(slots, headers[i])
			} else {
				slots = append(slots, fmt.Sprintf("slot %d", i+1))
			}
		})
		days = append(days, schedule.DaySchedule{Date: date, Label: label, Slots: slots})
	})
	return schedule.Normalize(days)
}

// ParseDayLabel turns a row label such as "21.11 ПТ" into a date. The year
// is taken from now and shifted by one when that puts the date more than
// six months away, so late-December pages listing January days resolve
// into the next year.
func ParseDayLabel(label string, now time.Time) (schedule.Date, bool) {
	m := dayMonthRe.FindStringSubmatch(label)
	if m == nil {
		return schedule.Date{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return schedule.Date{}, false
	}

	year := now.Year()
	candidate := time.Date(year, time.Month(month), day, 12, 0, 0, 0, time.UTC)
	ref := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.UTC)
	const halfYear = 183 * 24 * time.Hour
	switch diff := candidate.Sub(ref); {
	case diff < -halfYear:
		year++
	case diff > halfYear:
		year--
	}
	d := schedule.DateOf(time.Date(year, time.Month(month), day, 12, 0, 0, 0, time.UTC))
	if d.Day != day {
		return schedule.Date{}, false
	}
	return d, true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
