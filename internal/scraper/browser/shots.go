package browser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/robfig/cron/v3"

	logx "watchbot/pkg/logx"
)

// ShotDir stores screenshots under <root>/<scraper>/.
type ShotDir struct {
	root string
	now  func() time.Time
}

func NewShotDir(root string) *ShotDir {
	root = strings.TrimSpace(root)
	if root == "" {
		root = filepath.Join("data", "screenshots")
	}
	return &ShotDir{root: root, now: time.Now}
}

func (d *ShotDir) Root() string { return d.root }

// For returns a writer scoped to one scraper's directory.
func (d *ShotDir) For(scraper string) *ShotWriter {
	return &ShotWriter{dir: filepath.Join(d.root, sanitize(scraper)), now: d.now}
}

type ShotWriter struct {
	dir string
	now func() time.Time
}

func (w *ShotWriter) Dir() string { return w.dir }

// Save writes png as <name>_<YYYYMMDD_HHMMSS>.png and returns the path.
func (w *ShotWriter) Save(name string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", errors.New("empty screenshot")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", err
	}
	file := fmt.Sprintf("%s_%s.png", sanitize(name), w.now().Format("20060102_150405"))
	path := filepath.Join(w.dir, file)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "shot"
	}
	if rs := []rune(out); len(rs) > 96 {
		out = string(rs[:96])
	}
	return out
}

// Prune removes screenshots older than maxAge and returns how many were removed.
func (d *ShotDir) Prune(maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(path), ".png") {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Janitor prunes old screenshots on a cron schedule.
type Janitor struct {
	c   *cron.Cron
	dir *ShotDir
	log logx.Logger
}

// StartJanitor schedules Prune(maxAge) using a standard cron spec or a
// descriptor such as "@daily" or "@every 6h".
func StartJanitor(dir *ShotDir, spec string, maxAge time.Duration, log logx.Logger) (*Janitor, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(spec) == "" {
		spec = "@daily"
	}
	j := &Janitor{
		c:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		dir: dir,
		log: log,
	}
	if _, err := j.c.AddFunc(spec, func() { j.run(maxAge) }); err != nil {
		return nil, fmt.Errorf("screenshot cleanup schedule %q: %w", spec, err)
	}
	j.c.Start()
	return j, nil
}

func (j *Janitor) run(maxAge time.Duration) {
	n, err := j.dir.Prune(maxAge, time.Now())
	if err != nil {
		j.log.Warn("screenshot cleanup failed", logx.Err(err))
		return
	}
	if n > 0 {
		j.log.Info("old screenshots removed", logx.Int("count", n), logx.Duration("max_age", maxAge))
	}
}

func (j *Janitor) Stop(ctx context.Context) {
	if j == nil {
		return
	}
	done := j.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
