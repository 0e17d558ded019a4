// Package outage scrapes the planned power-outage schedule published per
// street address and reports it as a schedule.Schedule.
package outage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"watchbot/internal/schedule"
	"watchbot/internal/scraper"
	"watchbot/internal/scraper/browser"
	logx "watchbot/pkg/logx"
)

const (
	Name    = "outage"
	Version = "1.0.0"

	OpGetSchedule  = "get_schedule"
	OpCheckNow     = "check_now"
	OpCheckToday   = "check_today"
	OpTrackChanges = "track_changes"

	DefaultURL  = "https://www.dtek-dnem.com.ua/ua/shutdowns"
	DefaultCity = "м. Дніпро"
	DefaultDays = 7
	maxDays     = 14
)

// Address form selectors.
const (
	selCityInput     = "input[placeholder*='нас. пункт']"
	selStreetInput   = "input[placeholder*='вулицю']"
	selBuildingInput = "input[placeholder*='номер']"
	selQueueInput    = "input[placeholder*='Черга']"
	selOption        = "div[role='option']"
)

var Descriptor = scraper.Descriptor{
	Name:        Name,
	Description: "Planned power-outage schedule for a street address",
	Version:     Version,
	Operations:  []string{OpGetSchedule, OpCheckNow, OpCheckToday, OpTrackChanges},
}

// Register adds the outage scraper to reg.
func Register(reg *scraper.Registry) error {
	return reg.Register(Descriptor, New)
}

type Address struct {
	City     string `json:"city"`
	Street   string `json:"street"`
	Building string `json:"building"`
	Queue    string `json:"queue,omitempty"`
}

func (a Address) String() string {
	s := fmt.Sprintf("%s, %s %s", a.City, a.Street, a.Building)
	if a.Queue != "" {
		s += fmt.Sprintf(" (queue %s)", a.Queue)
	}
	return s
}

// ScheduleReport is the get_schedule payload.
type ScheduleReport struct {
	Address  Address           `json:"address"`
	Days     schedule.Schedule `json:"schedule"`
	Warnings []string          `json:"warnings,omitempty"`
	ParsedAt time.Time         `json:"parsed_at"`
}

// ScheduleSnapshot exposes the days to schedule consumers such as monitors.
func (r ScheduleReport) ScheduleSnapshot() schedule.Schedule { return r.Days }

type NowReport struct {
	Date      schedule.Date `json:"date"`
	Time      string        `json:"time"`
	OutageNow bool          `json:"outage_now"`
	Active    []string      `json:"active"`
	Today     []string      `json:"today"`
	Found     bool          `json:"found"`
}

type TodayReport struct {
	Date     schedule.Date         `json:"date"`
	Day      *schedule.DaySchedule `json:"day,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
}

type ChangeReport struct {
	First      bool             `json:"first"`
	HasChanges bool             `json:"has_changes"`
	Changes    []schedule.Delta `json:"changes"`
	LastCheck  time.Time        `json:"last_check,omitzero"`
	Current    ScheduleReport   `json:"current"`
}

type Scraper struct {
	scraper.Base

	addr Address
	url  string

	mu        sync.Mutex
	fresh     bool
	cached    *ScheduleReport
	lastCheck time.Time
}

func New(cfg scraper.Config, env scraper.Env) (scraper.Scraper, error) {
	s := &Scraper{
		addr: Address{
			City:     cfg.GetOr("city", DefaultCity),
			Street:   cfg.Get("street"),
			Building: cfg.Get("building"),
			Queue:    cfg.Get("queue"),
		},
		url: cfg.GetOr("url", DefaultURL),
	}
	s.Init(Descriptor, cfg, env)
	return s, nil
}

func (s *Scraper) ValidateConfig() error {
	return s.Config().Require("street", "building")
}

func (s *Scraper) Health() scraper.Health { return s.HealthFor(s.ValidateConfig) }

// Authenticate loads the schedule page; the site has no login.
func (s *Scraper) Authenticate(ctx context.Context) error {
	sess, err := s.Session()
	if err != nil {
		return err
	}
	if err := sess.Navigate(ctx, s.url); err != nil {
		return scraper.AuthFailed("load %s: %v", s.url, err)
	}
	s.mu.Lock()
	s.fresh = true
	s.mu.Unlock()
	s.MarkAuthenticated(true)
	s.Log().Info("schedule page loaded", logx.String("url", s.url))
	return nil
}

func (s *Scraper) Extract(ctx context.Context, op string, p scraper.Params) (scraper.Result, error) {
	if err := s.CheckOp(op); err != nil {
		return scraper.Result{}, err
	}
	switch op {
	case OpGetSchedule:
		days, err := p.Int("days", DefaultDays)
		if err != nil || days < 1 || days > maxDays {
			return scraper.Result{}, scraper.InvalidConfig("days must be 1..%d", maxDays)
		}
		rep, err := s.fetch(ctx, days)
		if err != nil {
			return scraper.Failed(op, err)
		}
		return scraper.OK(rep), nil
	case OpCheckNow:
		rep, err := s.checkNow(ctx)
		if err != nil {
			return scraper.Failed(op, err)
		}
		return scraper.OK(rep), nil
	case OpCheckToday:
		rep, err := s.fetch(ctx, 1)
		if err != nil {
			return scraper.Failed(op, err)
		}
		today := schedule.DateOf(s.now())
		out := TodayReport{Date: today, Warnings: rep.Warnings}
		if d, ok := rep.Days.Day(today); ok {
			out.Day = &d
		}
		return scraper.OK(out), nil
	case OpTrackChanges:
		rep, err := s.trackChanges(ctx)
		if err != nil {
			return scraper.Failed(op, err)
		}
		return scraper.OK(rep), nil
	}
	return scraper.Result{}, scraper.Unsupported(Name, op)
}

func (s *Scraper) now() time.Time { return s.Env().Now().In(s.Env().Location) }

// fetch fills the address form, parses the rendered schedule and caches it.
func (s *Scraper) fetch(ctx context.Context, days int) (ScheduleReport, error) {
	sess, err := s.Session()
	if err != nil {
		return ScheduleReport{}, err
	}

	s.mu.Lock()
	fresh := s.fresh
	s.fresh = false
	s.mu.Unlock()
	if !fresh {
		if err := sess.Navigate(ctx, s.url); err != nil {
			return ScheduleReport{}, err
		}
	}

	if err := s.fillAddress(ctx, sess); err != nil {
		return ScheduleReport{}, fmt.Errorf("fill address: %w", err)
	}
	if err := sess.WaitVisible(ctx, selScheduleTable, 0); err != nil {
		return ScheduleReport{}, fmt.Errorf("schedule table: %w", err)
	}
	html, err := sess.OuterHTML(ctx, "body")
	if err != nil {
		return ScheduleReport{}, err
	}

	now := s.now()
	snap, err := ParsePage(html, now)
	if err != nil {
		return ScheduleReport{}, err
	}
	rep := ScheduleReport{
		Address:  s.addr,
		Days:     schedule.Window(snap.Days, schedule.DateOf(now), days),
		Warnings: snap.Warnings,
		ParsedAt: now,
	}
	s.Log().Debug("schedule parsed",
		logx.Int("days", len(rep.Days)),
		logx.Int("warnings", len(rep.Warnings)),
	)
	return rep, nil
}

func (s *Scraper) fillAddress(ctx context.Context, sess *browser.Session) error {
	const settle = 500 * time.Millisecond
	steps := []struct {
		input, value string
		pick         bool
	}{
		{selCityInput, s.addr.City, true},
		{selStreetInput, s.addr.Street, true},
		{selBuildingInput, s.addr.Building, false},
		{selQueueInput, s.addr.Queue, false},
	}
	for _, st := range steps {
		if st.value == "" {
			continue
		}
		if err := sess.Fill(ctx, st.input, st.value); err != nil {
			return err
		}
		if err := sess.Pause(ctx, settle); err != nil {
			return err
		}
		if !st.pick {
			continue
		}
		if err := sess.ClickText(ctx, selOption, st.value); err != nil {
			return err
		}
		if err := sess.Pause(ctx, settle); err != nil {
			return err
		}
	}
	// The schedule re-renders after the last input.
	return sess.Pause(ctx, 2*time.Second)
}

func (s *Scraper) checkNow(ctx context.Context) (NowReport, error) {
	rep, err := s.fetch(ctx, 1)
	if err != nil {
		return NowReport{}, err
	}
	now := s.now()
	out := NowReport{Date: schedule.DateOf(now), Time: now.Format("15:04")}
	day, ok := rep.Days.Day(out.Date)
	if !ok {
		return out, nil
	}
	out.Found = true
	out.Today = day.Slots
	out.Active = schedule.Active(day, now)
	out.OutageNow = len(out.Active) > 0
	return out, nil
}

// trackChanges diffs a fresh week against this session's previous fetch.
func (s *Scraper) trackChanges(ctx context.Context) (ChangeReport, error) {
	rep, err := s.fetch(ctx, DefaultDays)
	if err != nil {
		return ChangeReport{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := ChangeReport{Current: rep, LastCheck: s.lastCheck, Changes: []schedule.Delta{}}
	if s.cached == nil {
		out.First = true
	} else {
		out.Changes = schedule.Diff(s.cached.Days, rep.Days)
		out.HasChanges = len(out.Changes) > 0
	}
	s.cached = &rep
	s.lastCheck = rep.ParsedAt
	return out, nil
}
