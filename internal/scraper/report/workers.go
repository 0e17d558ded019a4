package report

import (
	"fmt"
	"strings"
	"time"

	"watchbot/internal/scraper/table"
)

type ScamStatus string

const (
	StatusClean      ScamStatus = "clean"
	StatusSuspicious ScamStatus = "suspicious"
	StatusScam       ScamStatus = "scam_detected"
)

// Field names of the worker table.
const (
	fName     = "name"
	fUsername = "username"
	fTeam     = "team"
	fDate     = "report_date"
	fReportID = "report_id"
	fRed      = "scam_red"
	fYellow   = "scam_yellow"
	fGreen    = "scam_green"
	fSFS      = "sfs"
	fOnlyNow  = "only_now"
	fSCH      = "sch"
	fCreated  = "created_at"
)

// WorkerTable describes the dashboard table. Only rows with the red scam
// marker open the blacklist modal.
func WorkerTable() table.Spec {
	return table.Spec{
		Root: selTable,
		Rows: selRows,
		Fields: []table.Field{
			{Name: fName, Selector: "td:nth-child(1) strong"},
			{Name: fUsername, Selector: "td:nth-child(1) small", TrimPrefix: "@"},
			{Name: fTeam, Selector: "td:nth-child(2) .badge"},
			{Name: fDate, Selector: "td:nth-child(3) strong"},
			{Name: fReportID, Selector: "td:nth-child(3) small", Kind: table.Int},
			{Name: fRed, Selector: "td:nth-child(4) i.bi-x-circle-fill.text-danger", Kind: table.Present},
			{Name: fYellow, Selector: "td:nth-child(4) i.bi-exclamation-triangle-fill.text-warning", Kind: table.Present},
			{Name: fGreen, Selector: "td:nth-child(4) i.bi-check-circle-fill.text-success", Kind: table.Present},
			{Name: fSFS, Selector: "td:nth-child(5) .badge", Kind: table.Int},
			{Name: fOnlyNow, Selector: "td:nth-child(6) .badge", Kind: table.Int},
			{Name: fSCH, Selector: "td:nth-child(7) .badge", Kind: table.Int},
			{Name: fCreated, Selector: "td:nth-child(8) small"},
		},
		Detail: &table.DetailSpec{
			Trigger: "td:nth-child(4) button[id^='blacklist-btn-']",
			Overlay: selModal,
			Body:    selModalBody,
			Close:   selModalClose,
			Timeout: 5 * time.Second,
			When:    func(r table.Record) bool { return r.Found(fRed) },
			ShotName: func(r table.Record) string {
				return fmt.Sprintf("scam_%d_%s", r.Int(fReportID), r.Text(fUsername))
			},
		},
	}
}

type Worker struct {
	Name       string             `json:"name"`
	Username   string             `json:"username"`
	Team       string             `json:"team"`
	ReportDate string             `json:"report_date,omitempty"`
	ReportID   int                `json:"report_id"`
	SFS        int                `json:"sfs"`
	OnlyNow    int                `json:"only_now"`
	SCH        int                `json:"sch"`
	CreatedAt  string             `json:"created_at,omitempty"`
	Status     ScamStatus         `json:"scam_status"`
	HasScam    bool               `json:"has_scam"`
	Detail     *table.DetailBlock `json:"scam_details,omitempty"`
	DetailErr  string             `json:"scam_details_error,omitempty"`
}

type Totals struct {
	SFS     int `json:"sfs"`
	OnlyNow int `json:"only_now"`
	SCH     int `json:"sch"`
}

type Report struct {
	Date         string    `json:"date"`
	Team         string    `json:"team"`
	Workers      []Worker  `json:"workers"`
	Totals       Totals    `json:"totals"`
	ScamDetected int       `json:"scam_detected"`
	ScamWorkers  []string  `json:"scam_workers"`
	ParsedAt     time.Time `json:"parsed_at"`
}

// Find looks a worker up by display name or username, ignoring case.
func (r Report) Find(who string) (Worker, bool) {
	who = strings.TrimPrefix(strings.TrimSpace(who), "@")
	for _, w := range r.Workers {
		if strings.EqualFold(w.Name, who) || strings.EqualFold(w.Username, who) {
			return w, true
		}
	}
	return Worker{}, false
}

func workerFrom(rec table.Record) Worker {
	w := Worker{
		Name:       rec.Text(fName),
		Username:   rec.Text(fUsername),
		Team:       rec.Text(fTeam),
		ReportDate: rec.Text(fDate),
		ReportID:   rec.Int(fReportID),
		SFS:        rec.Int(fSFS),
		SCH:        rec.Int(fSCH),
		CreatedAt:  rec.Text(fCreated),
		Status:     StatusClean,
		Detail:     rec.Detail,
		DetailErr:  rec.DetailErr,
	}
	if w.Name == "" {
		w.Name = "Unknown"
	}
	if w.Team == "" {
		w.Team = "Unknown"
	}
	if rec.Found(fOnlyNow) {
		w.OnlyNow = rec.Int(fOnlyNow)
	} else {
		w.OnlyNow = w.SFS - w.SCH
	}
	switch {
	case rec.Found(fRed):
		w.Status = StatusScam
		w.HasScam = true
	case rec.Found(fYellow):
		w.Status = StatusSuspicious
	}
	return w
}

// BuildReport aggregates extracted rows. Rows without a worker name and
// without counters are header or spacer rows and are skipped.
func BuildReport(recs []table.Record, date, team string) Report {
	rep := Report{Date: date, Team: team, Workers: []Worker{}, ScamWorkers: []string{}}
	if rep.Team == "" {
		rep.Team = TeamAll
	}
	for _, rec := range recs {
		if !rec.Found(fName) && !rec.Found(fSFS) {
			continue
		}
		w := workerFrom(rec)
		rep.Workers = append(rep.Workers, w)
		rep.Totals.SFS += w.SFS
		rep.Totals.OnlyNow += w.OnlyNow
		rep.Totals.SCH += w.SCH
		if w.HasScam {
			rep.ScamDetected++
			rep.ScamWorkers = append(rep.ScamWorkers, w.Name)
		}
	}
	return rep
}
