// Package browser wraps chromedp into an owned, idempotently closable
// browser session plus screenshot storage.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"

	logx "watchbot/pkg/logx"
)

var ErrClosed = errors.New("browser session closed")

// Launcher starts browser sessions with shared options.
type Launcher struct {
	opts Options
	log  logx.Logger
}

func NewLauncher(opts Options, log logx.Logger) *Launcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Launcher{opts: opts.withDefaults(), log: log}
}

func (l *Launcher) Options() Options { return l.opts }

// Launch starts a browser process with one tab.
//
// The session outlives ctx on purpose: it is detached from ctx cancellation
// and only torn down by Close. ctx bounds the launch itself.
func (l *Launcher) Launch(ctx context.Context) (*Session, error) {
	o := l.opts
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.UserAgent(o.UserAgent),
		chromedp.WindowSize(o.WindowWidth, o.WindowHeight),
	)
	if o.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if o.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(o.ExecPath))
	}

	id := uuid.NewString()
	log := l.log.With(logx.String("session", id))

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { log.Trace(fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...)) }),
	)

	// The first Run allocates the browser. It must not carry a deadline or the
	// browser dies with it, so the launch bound is enforced from outside.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	timer := time.NewTimer(o.LaunchTimeout)
	defer timer.Stop()
	var err error
	select {
	case err = <-started:
	case <-timer.C:
		err = fmt.Errorf("browser launch timed out after %s", o.LaunchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	log.Debug("browser session started", logx.Bool("headless", o.Headless))
	return &Session{
		id:          id,
		log:         log,
		opts:        o,
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}, nil
}

// Session is one browser process with a single tab. It is not safe for
// concurrent use by multiple goroutines; Close may be called from anywhere.
type Session struct {
	id   string
	log  logx.Logger
	opts Options

	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *Session) ID() string { return s.id }

func (s *Session) Ready() bool { return s != nil && !s.closed.Load() && s.ctx.Err() == nil }

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if !s.Ready() {
		return ErrClosed
	}
	if timeout <= 0 {
		timeout = s.opts.ActionTimeout
	}
	rctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	if ctx != nil {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
	}
	return chromedp.Run(rctx, actions...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, s.opts.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, 0, chromedp.Location(&url))
	return url, err
}

func (s *Session) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (s *Session) WaitHidden(ctx context.Context, sel string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitNotVisible(sel, chromedp.ByQuery))
}

func (s *Session) WaitReady(ctx context.Context, sel string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitReady(sel, chromedp.ByQuery))
}

func (s *Session) Click(ctx context.Context, sel string) error {
	return s.run(ctx, 0, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible))
}

// Fill clears an input and types text into it.
func (s *Session) Fill(ctx context.Context, sel, text string) error {
	return s.run(ctx, 0,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
}

func (s *Session) SetValue(ctx context.Context, sel, value string) error {
	return s.run(ctx, 0, chromedp.SetValue(sel, value, chromedp.ByQuery))
}

func (s *Session) PressEscape(ctx context.Context) error {
	return s.run(ctx, 0, chromedp.KeyEvent(kb.Escape))
}

func (s *Session) Pause(ctx context.Context, d time.Duration) error {
	return s.run(ctx, d+s.opts.ActionTimeout, chromedp.Sleep(d))
}

func (s *Session) Text(ctx context.Context, sel string) (string, error) {
	var out string
	err := s.run(ctx, 0, chromedp.Text(sel, &out, chromedp.ByQuery))
	return out, err
}

func (s *Session) InnerHTML(ctx context.Context, sel string) (string, error) {
	var out string
	err := s.run(ctx, 0, chromedp.InnerHTML(sel, &out, chromedp.ByQuery))
	return out, err
}

func (s *Session) OuterHTML(ctx context.Context, sel string) (string, error) {
	var out string
	err := s.run(ctx, 0, chromedp.OuterHTML(sel, &out, chromedp.ByQuery))
	return out, err
}

// Exists reports whether sel currently matches an element, without waiting.
func (s *Session) Exists(ctx context.Context, sel string) (bool, error) {
	var ok bool
	js := fmt.Sprintf("document.querySelector(%s) !== null", jsString(sel))
	err := s.run(ctx, 0, chromedp.Evaluate(js, &ok))
	return ok, err
}

// ClickText clicks the first element matching sel whose text contains text.
func (s *Session) ClickText(ctx context.Context, sel, text string) error {
	js := fmt.Sprintf(`(() => {
  const want = %s.toLowerCase();
  for (const el of document.querySelectorAll(%s)) {
    if ((el.textContent || "").toLowerCase().includes(want)) { el.click(); return true; }
  }
  return false;
})()`, jsString(text), jsString(sel))
	var ok bool
	if err := s.run(ctx, 0, chromedp.Evaluate(js, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no %s containing %q", sel, text)
	}
	return nil
}

func (s *Session) Evaluate(ctx context.Context, js string, out any) error {
	return s.run(ctx, 0, chromedp.Evaluate(js, out))
}

func (s *Session) ScreenshotElement(ctx context.Context, sel string) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, 0, chromedp.Screenshot(sel, &buf, chromedp.NodeVisible, chromedp.ByQuery))
	return buf, err
}

func (s *Session) ScreenshotPage(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, 0, chromedp.FullScreenshot(&buf, 90))
	return buf, err
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = err
			}
		case <-time.After(s.opts.CloseTimeout):
			s.closeErr = fmt.Errorf("browser close timed out after %s", s.opts.CloseTimeout)
		}
		s.cancelTab()
		s.cancelAlloc()
		s.log.Debug("browser session closed", logx.Err(s.closeErr))
	})
	return s.closeErr
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
