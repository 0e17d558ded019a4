package monitor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Cadence decides when the next tick of a monitor runs.
//
// Accepted forms:
//   - cron: "*/30 * * * *", "@hourly", "@every 45m", or "cron:<expr>"
//   - interval: "55m", "2h30m", "interval:1h", "every:90s"
//   - HH:MM interval: "01:30" (an hour and a half)
//   - bare seconds: "3600"
type Cadence struct {
	Spec  string
	Every time.Duration // zero for cron cadences
	sched cron.Schedule
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func ParseCadence(raw string) (Cadence, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cadence{}, fmt.Errorf("cadence required")
	}
	low := strings.ToLower(s)

	if strings.HasPrefix(low, "cron:") {
		return cronCadence(s, strings.TrimSpace(s[len("cron:"):]))
	}
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			d, err := parseInterval(s[len(p):])
			if err != nil {
				return Cadence{}, err
			}
			return intervalCadence(s, d), nil
		}
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return cronCadence(s, s)
	}
	d, err := parseInterval(s)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid cadence %q (use cron like '*/30 * * * *', HH:MM like '01:00', or a duration like '45m')", raw)
	}
	return intervalCadence(s, d), nil
}

func cronCadence(spec, expr string) (Cadence, error) {
	if expr == "" {
		return Cadence{}, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	c := Cadence{Spec: spec, sched: sched}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		c.Every = every.Delay
	}
	return c, nil
}

func intervalCadence(spec string, d time.Duration) Cadence {
	return Cadence{Spec: spec, Every: d, sched: fixedDelay(d)}
}

// fixedDelay is cron.Every without the whole-second rounding.
type fixedDelay time.Duration

func (f fixedDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(f)) }

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	switch {
	case reHHMM.MatchString(v):
		m := reHHMM.FindStringSubmatch(v)
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	default:
		if n, err := strconv.Atoi(v); err == nil {
			d = time.Duration(n) * time.Second
			break
		}
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// Next returns the first tick time strictly after t.
func (c Cadence) Next(t time.Time) time.Time {
	if c.sched == nil {
		return t.Add(time.Hour)
	}
	return c.sched.Next(t)
}

func (c Cadence) String() string { return c.Spec }
