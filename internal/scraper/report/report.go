// Package report scrapes the worker report dashboard: per-worker counters,
// team totals and the scam blacklist detail for flagged workers.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"watchbot/internal/scraper"
	"watchbot/internal/scraper/browser"
	"watchbot/internal/scraper/table"
	logx "watchbot/pkg/logx"
)

const (
	Name    = "report"
	Version = "2.0.0"

	OpGetStats         = "get_stats"
	OpGetDailyReport   = "get_daily_report"
	OpGetWorkerDetails = "get_worker_details"

	TeamAll = "all"
)

const (
	selUsername   = "input[name='username']"
	selPassword   = "input[name='password']"
	selSubmit     = "button[type='submit']"
	selDateFilter = "input#report_date"
	selTable      = "table"
	selRows       = "tbody tr"

	selModal      = "#blacklistModalDynamic"
	selModalBody  = "#blacklistModalDynamic .modal-body"
	selModalClose = "#blacklistModalDynamic .btn-close"
)

// teamButtons maps accepted team spellings to the filter button's data-team.
var teamButtons = map[string]string{
	"good_bunny": "2",
	"good bunny": "2",
	"goodbunny":  "2",
	"velvet":     "1",
}

var Descriptor = scraper.Descriptor{
	Name:        Name,
	Description: "Worker report dashboard with scam blacklist details",
	Version:     Version,
	Operations:  []string{OpGetStats, OpGetDailyReport, OpGetWorkerDetails},
}

func Register(reg *scraper.Registry) error {
	return reg.Register(Descriptor, New)
}

type Scraper struct {
	scraper.Base

	url      string
	username string
	password string
}

func New(cfg scraper.Config, env scraper.Env) (scraper.Scraper, error) {
	s := &Scraper{
		url:      cfg.Get("url"),
		username: cfg.Get("username"),
		password: cfg.Get("password"),
	}
	s.Init(Descriptor, cfg, env)
	return s, nil
}

func (s *Scraper) ValidateConfig() error {
	return s.Config().Require("url", "username", "password")
}

func (s *Scraper) Health() scraper.Health { return s.HealthFor(s.ValidateConfig) }

func (s *Scraper) Authenticate(ctx context.Context) error {
	sess, err := s.Session()
	if err != nil {
		return err
	}
	if err := sess.Navigate(ctx, s.url); err != nil {
		return scraper.AuthFailed("load login page: %v", err)
	}
	if err := sess.Fill(ctx, selUsername, s.username); err != nil {
		return scraper.AuthFailed("username field: %v", err)
	}
	if err := sess.Fill(ctx, selPassword, s.password); err != nil {
		return scraper.AuthFailed("password field: %v", err)
	}
	if err := sess.Click(ctx, selSubmit); err != nil {
		return scraper.AuthFailed("submit: %v", err)
	}
	if err := sess.WaitReady(ctx, "body", 0); err != nil {
		return scraper.AuthFailed("after submit: %v", err)
	}
	loc, err := sess.Location(ctx)
	if err != nil {
		return scraper.AuthFailed("read location: %v", err)
	}
	if strings.Contains(loc, "/login") {
		s.MarkAuthenticated(false)
		return scraper.AuthFailed("credentials rejected for %s", s.username)
	}
	s.MarkAuthenticated(true)
	s.Log().Info("dashboard login ok", logx.String("user", s.username))
	return nil
}

func (s *Scraper) Extract(ctx context.Context, op string, p scraper.Params) (scraper.Result, error) {
	if err := s.CheckOp(op); err != nil {
		return scraper.Result{}, err
	}
	date := p.String("date", s.Env().Now().In(s.Env().Location).Format("2006-01-02"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return scraper.Result{}, scraper.InvalidConfig("date %q is not YYYY-MM-DD", date)
	}

	switch op {
	case OpGetStats, OpGetDailyReport:
		team := TeamAll
		if op == OpGetStats {
			team = p.String("team", s.Config().GetOr("team", TeamAll))
		}
		rep, err := s.stats(ctx, date, team)
		if err != nil {
			return scraper.Failed(op, err)
		}
		return scraper.OK(rep), nil
	case OpGetWorkerDetails:
		who := p.String("name", "")
		if who == "" {
			return scraper.Result{}, scraper.InvalidConfig("name is required")
		}
		rep, err := s.stats(ctx, date, p.String("team", TeamAll))
		if err != nil {
			return scraper.Failed(op, err)
		}
		w, ok := rep.Find(who)
		if !ok {
			return scraper.Failed(op, fmt.Errorf("%w: worker %q on %s", scraper.ErrNotFound, who, date))
		}
		return scraper.OK(w), nil
	}
	return scraper.Result{}, scraper.Unsupported(Name, op)
}

func (s *Scraper) stats(ctx context.Context, date, team string) (Report, error) {
	sess, err := s.Session()
	if err != nil {
		return Report{}, err
	}
	if err := s.applyFilters(ctx, sess, date, team); err != nil {
		return Report{}, err
	}

	ex := table.New(sess, WorkerTable(), s.Shots(), s.Log())
	recs, err := ex.Extract(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := BuildReport(recs, date, team)
	rep.ParsedAt = s.Env().Now()
	s.Log().Info("report parsed",
		logx.String("date", date),
		logx.String("team", team),
		logx.Int("workers", len(rep.Workers)),
		logx.Int("scam", rep.ScamDetected),
	)
	return rep, nil
}

func (s *Scraper) applyFilters(ctx context.Context, sess *browser.Session, date, team string) error {
	js := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  el.value = %q;
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
})()`, selDateFilter, date)
	var ok bool
	if err := sess.Evaluate(ctx, js, &ok); err != nil {
		return fmt.Errorf("set date filter: %w", err)
	}
	if !ok {
		s.Log().Debug("date filter not present", logx.String("date", date))
	}
	if err := sess.Pause(ctx, time.Second); err != nil {
		return err
	}

	key := strings.ToLower(strings.TrimSpace(team))
	if key != "" && key != TeamAll {
		id, known := teamButtons[key]
		if !known {
			return scraper.InvalidConfig("unknown team %q", team)
		}
		if err := sess.Click(ctx, fmt.Sprintf("button[data-team='%s']", id)); err != nil {
			return fmt.Errorf("team filter: %w", err)
		}
		if err := sess.Pause(ctx, time.Second); err != nil {
			return err
		}
	}
	return sess.WaitReady(ctx, selTable, 0)
}
