// Package table extracts structured records from HTML tables rendered in a
// live page, optionally opening a per-row detail overlay.
//
// Field values are read from an HTML snapshot of the table taken once, so
// records never hold live DOM handles. Only the detail step touches the live
// page, and it does so one row at a time.
package table

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	logx "watchbot/pkg/logx"
)

// Page is the subset of a browser session the extractor drives.
type Page interface {
	OuterHTML(ctx context.Context, sel string) (string, error)
	Click(ctx context.Context, sel string) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	WaitHidden(ctx context.Context, sel string, timeout time.Duration) error
	Text(ctx context.Context, sel string) (string, error)
	InnerHTML(ctx context.Context, sel string) (string, error)
	ScreenshotElement(ctx context.Context, sel string) ([]byte, error)
	ScreenshotPage(ctx context.Context) ([]byte, error)
	PressEscape(ctx context.Context) error
}

// ShotSaver persists a screenshot and returns its path.
type ShotSaver interface {
	Save(name string, png []byte) (string, error)
}

type Kind int

const (
	// Text is the trimmed text content of the first match.
	Text Kind = iota
	// Int is the first contiguous digit run of the text, 0 when absent.
	Int
	// Present records whether the selector matched anything.
	Present
	// Attr is the value of Field.Attr on the first match.
	Attr
)

type Field struct {
	Name     string
	Selector string
	Kind     Kind
	Attr     string
	// TrimPrefix is removed from text values, e.g. "@" for usernames.
	TrimPrefix string
}

// DetailSpec describes the overlay opened by a per-row trigger.
// Trigger is relative to the row; Overlay, Body and Close are page selectors.
type DetailSpec struct {
	Trigger string
	Overlay string
	Body    string
	Close   string
	Timeout time.Duration
	// When limits detail extraction to matching records. Nil means all rows
	// that carry the trigger.
	When func(Record) bool
	// ShotName names the overlay screenshot. Nil uses "row_<index>".
	ShotName func(Record) string
}

// Spec declares how to turn a table into records. Rows is matched inside
// the Root snapshot. A trigger without an id is clicked through the row's
// element path below Root, so Rows may skip header or group rows.
type Spec struct {
	Root   string
	Rows   string
	Fields []Field
	Detail *DetailSpec
}

type Value struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Int   int    `json:"int"`
	Found bool   `json:"found"`
}

type DetailBlock struct {
	Text           string `json:"text"`
	HTML           string `json:"html"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

// Record is one extracted row. Values keep the order of Spec.Fields.
type Record struct {
	Index     int          `json:"index"`
	Values    []Value      `json:"values"`
	Detail    *DetailBlock `json:"detail,omitempty"`
	DetailErr string       `json:"detail_error,omitempty"`
}

func (r Record) Get(name string) (Value, bool) {
	for _, v := range r.Values {
		if v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

func (r Record) Text(name string) string {
	v, _ := r.Get(name)
	return v.Text
}

func (r Record) Int(name string) int {
	v, _ := r.Get(name)
	return v.Int
}

// Found reports whether the field's selector matched in this row.
func (r Record) Found(name string) bool {
	v, _ := r.Get(name)
	return v.Found
}

type Extractor struct {
	page  Page
	spec  Spec
	shots ShotSaver
	log   logx.Logger
}

func New(page Page, spec Spec, shots ShotSaver, log logx.Logger) *Extractor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if spec.Detail != nil && spec.Detail.Timeout <= 0 {
		spec.Detail.Timeout = 5 * time.Second
	}
	return &Extractor{page: page, spec: spec, shots: shots, log: log}
}

// Extract snapshots the table and returns one record per row in table order.
// Detail failures are recorded on the row and never drop it.
func (e *Extractor) Extract(ctx context.Context) ([]Record, error) {
	html, err := e.page.OuterHTML(ctx, e.spec.Root)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", e.spec.Root, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", e.spec.Root, err)
	}

	root := doc.Find("body").Children().First()
	rows := doc.Find(e.spec.Rows)
	out := make([]Record, 0, rows.Length())
	m := &detailMachine{page: e.page, log: e.log}
	if e.spec.Detail != nil {
		m.spec = *e.spec.Detail
	}

	rows.Each(func(i int, row *goquery.Selection) {
		rec := Record{Index: i, Values: ReadFields(row, e.spec.Fields)}
		if e.spec.Detail != nil {
			e.attachDetail(ctx, m, root, row, &rec)
		}
		out = append(out, rec)
	})
	return out, nil
}

func (e *Extractor) attachDetail(ctx context.Context, m *detailMachine, root, row *goquery.Selection, rec *Record) {
	d := e.spec.Detail
	trig := row.Find(d.Trigger).First()
	if trig.Length() == 0 {
		return
	}
	if d.When != nil && !d.When(*rec) {
		return
	}
	if m.stuck() {
		rec.DetailErr = errOverlayStuck.Error()
		return
	}
	if ctx.Err() != nil {
		rec.DetailErr = ctx.Err().Error()
		return
	}

	sel, err := e.liveTrigger(root, row, trig)
	if err != nil {
		rec.DetailErr = err.Error()
		return
	}
	name := fmt.Sprintf("row_%d", rec.Index)
	if d.ShotName != nil {
		name = d.ShotName(*rec)
	}
	block, err := m.read(ctx, sel, name, e.shots)
	if err != nil {
		rec.DetailErr = err.Error()
		e.log.Debug("row detail unavailable", logx.Int("row", rec.Index), logx.Err(err))
	}
	rec.Detail = block
}

// liveTrigger builds a page selector for the trigger of row: its id when it
// has one, otherwise the row's child-index path from Root.
func (e *Extractor) liveTrigger(root, row, trig *goquery.Selection) (string, error) {
	if id, ok := trig.Attr("id"); ok && strings.TrimSpace(id) != "" {
		return fmt.Sprintf(`[id="%s"]`, cssEscape(id)), nil
	}
	path, ok := elementPath(root, row)
	if !ok {
		return "", fmt.Errorf("row is not inside %s", e.spec.Root)
	}
	return fmt.Sprintf("%s > %s %s", e.spec.Root, path, e.spec.Detail.Trigger), nil
}

// elementPath returns "tbody:nth-child(2) > tr:nth-child(1)" style steps
// from below root down to sel.
func elementPath(root, sel *goquery.Selection) (string, bool) {
	if root.Length() == 0 {
		return "", false
	}
	top := root.Get(0)
	var steps []string
	for cur := sel.First(); cur.Length() > 0; cur = cur.Parent() {
		if cur.Get(0) == top {
			if len(steps) == 0 {
				return "", false
			}
			slices.Reverse(steps)
			return strings.Join(steps, " > "), true
		}
		steps = append(steps, fmt.Sprintf("%s:nth-child(%d)", goquery.NodeName(cur), cur.Index()+1))
	}
	return "", false
}

func cssEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// ReadFields evaluates fields against one row.
func ReadFields(row *goquery.Selection, fields []Field) []Value {
	out := make([]Value, 0, len(fields))
	for _, f := range fields {
		sel := row
		if f.Selector != "" {
			sel = row.Find(f.Selector).First()
		}
		v := Value{Name: f.Name, Found: sel.Length() > 0}
		switch f.Kind {
		case Attr:
			v.Text, _ = sel.Attr(f.Attr)
			v.Text = strings.TrimSpace(v.Text)
		case Present:
		default:
			v.Text = strings.TrimSpace(sel.Text())
		}
		if f.TrimPrefix != "" {
			v.Text = strings.TrimSpace(strings.TrimPrefix(v.Text, f.TrimPrefix))
		}
		if f.Kind == Int {
			v.Int = CoerceInt(v.Text)
		}
		out = append(out, v)
	}
	return out
}

// CoerceInt returns the first contiguous run of ASCII digits in s as an int.
// It returns 0 when s has no digits or the run does not fit an int.
func CoerceInt(s string) int {
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return 0
	}
	n := 0
	for _, r := range s[start:] {
		if !isDigit(r) {
			break
		}
		d := int(r - '0')
		if n > (maxInt-d)/10 {
			return 0
		}
		n = n*10 + d
	}
	return n
}

const maxInt = int(^uint(0) >> 1)

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
