package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"watchbot/internal/scraper"
	"watchbot/internal/scraper/table"
	logx "watchbot/pkg/logx"
)

const dashboardHTML = `<table><tbody>
<tr>
  <td><strong>Anna</strong><small>@anna</small></td>
  <td><span class="badge">Good Bunny</span></td>
  <td><strong>2024-11-21</strong><small>#501</small></td>
  <td><i class="bi bi-x-circle-fill text-danger"></i><button id="blacklist-btn-501">?</button></td>
  <td><span class="badge">10</span></td>
  <td><span class="badge">4</span></td>
  <td><span class="badge">6</span></td>
  <td><small>09:12</small></td>
</tr>
<tr>
  <td><strong>Bohdan</strong><small>@bohdan</small></td>
  <td><span class="badge">Velvet</span></td>
  <td><strong>2024-11-21</strong><small>#502</small></td>
  <td><i class="bi bi-exclamation-triangle-fill text-warning"></i><button id="blacklist-btn-502">?</button></td>
  <td><span class="badge">7 шт</span></td>
  <td></td>
  <td><span class="badge">2</span></td>
  <td><small>09:40</small></td>
</tr>
<tr>
  <td><strong>Carl</strong><small>@carl</small></td>
  <td></td>
  <td><strong>2024-11-21</strong><small>#503</small></td>
  <td><i class="bi bi-check-circle-fill text-success"></i></td>
  <td><span class="badge">-</span></td>
  <td><span class="badge">0</span></td>
  <td><span class="badge">0</span></td>
  <td></td>
</tr>
</tbody></table>`

// modalPage serves the dashboard snapshot and a blacklist modal that opens
// for any trigger click.
type modalPage struct {
	open    bool
	clicked []string
}

var errHidden = errors.New("not visible")

func (p *modalPage) OuterHTML(context.Context, string) (string, error) { return dashboardHTML, nil }

func (p *modalPage) Click(_ context.Context, sel string) error {
	p.clicked = append(p.clicked, sel)
	p.open = sel != selModalClose
	return nil
}

func (p *modalPage) WaitVisible(context.Context, string, time.Duration) error {
	if p.open {
		return nil
	}
	return errHidden
}

func (p *modalPage) WaitHidden(context.Context, string, time.Duration) error {
	if p.open {
		return errHidden
	}
	return nil
}

func (p *modalPage) Text(context.Context, string) (string, error) {
	return "Card 4441 blacklisted", nil
}

func (p *modalPage) InnerHTML(context.Context, string) (string, error) { return "<b>4441</b>", nil }

func (p *modalPage) ScreenshotElement(context.Context, string) ([]byte, error) {
	return []byte{1}, nil
}

func (p *modalPage) ScreenshotPage(context.Context) ([]byte, error) { return []byte{2}, nil }

func (p *modalPage) PressEscape(context.Context) error {
	p.open = false
	return nil
}

type memShots map[string]int

func (m memShots) Save(name string, png []byte) (string, error) {
	m[name] = len(png)
	return "/shots/" + name + ".png", nil
}

func TestBuildReportFromDashboard(t *testing.T) {
	t.Parallel()
	page := &modalPage{}
	shots := memShots{}

	recs, err := table.New(page, WorkerTable(), shots, logx.Nop()).Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	rep := BuildReport(recs, "2024-11-21", "")

	want := []Worker{
		{
			Name: "Anna", Username: "anna", Team: "Good Bunny", ReportDate: "2024-11-21", ReportID: 501,
			SFS: 10, OnlyNow: 4, SCH: 6, CreatedAt: "09:12", Status: StatusScam, HasScam: true,
			Detail: &table.DetailBlock{Text: "Card 4441 blacklisted", HTML: "<b>4441</b>", ScreenshotPath: "/shots/scam_501_anna.png"},
		},
		{
			Name: "Bohdan", Username: "bohdan", Team: "Velvet", ReportDate: "2024-11-21", ReportID: 502,
			SFS: 7, OnlyNow: 5, SCH: 2, CreatedAt: "09:40", Status: StatusSuspicious,
		},
		{
			Name: "Carl", Username: "carl", Team: "Unknown", ReportDate: "2024-11-21", ReportID: 503,
			Status: StatusClean,
		},
	}
	if diff := cmp.Diff(want, rep.Workers, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("workers mismatch (-want +got):\n%s", diff)
	}
	if rep.Team != TeamAll || rep.Totals != (Totals{SFS: 17, OnlyNow: 9, SCH: 8}) {
		t.Fatalf("team=%q totals=%+v", rep.Team, rep.Totals)
	}
	if rep.ScamDetected != 1 || len(rep.ScamWorkers) != 1 || rep.ScamWorkers[0] != "Anna" {
		t.Fatalf("scam = %d %v", rep.ScamDetected, rep.ScamWorkers)
	}
	// Only the red-flagged row opens the modal, and it is closed again.
	if len(page.clicked) != 2 || page.clicked[0] != `[id="blacklist-btn-501"]` || page.clicked[1] != selModalClose {
		t.Fatalf("clicks = %v", page.clicked)
	}
	if shots["scam_501_anna"] != 1 {
		t.Fatalf("shots = %v", shots)
	}
}

func TestReportFind(t *testing.T) {
	t.Parallel()
	rep := Report{Workers: []Worker{{Name: "Anna", Username: "anna"}, {Name: "Bohdan", Username: "bo"}}}
	for _, who := range []string{"anna", "ANNA", "@bo", " Bohdan "} {
		if _, ok := rep.Find(who); !ok {
			t.Errorf("Find(%q) missed", who)
		}
	}
	if _, ok := rep.Find("carl"); ok {
		t.Error("Find(carl) should miss")
	}
}

func TestExtractRejectsBadInput(t *testing.T) {
	t.Parallel()
	s, _ := New(scraper.Config{"url": "http://dash.local", "username": "u", "password": "p"}, scraper.Env{})
	ctx := context.Background()

	if _, err := s.Extract(ctx, "delete_all", nil); !errors.Is(err, scraper.ErrUnsupportedOperation) {
		t.Fatalf("unsupported op err = %v", err)
	}
	if _, err := s.Extract(ctx, OpGetStats, scraper.Params{"date": "21.11.2024"}); !errors.Is(err, scraper.ErrInvalidConfig) {
		t.Fatalf("bad date err = %v", err)
	}
	if _, err := s.Extract(ctx, OpGetWorkerDetails, nil); !errors.Is(err, scraper.ErrInvalidConfig) {
		t.Fatalf("missing name err = %v", err)
	}
}
