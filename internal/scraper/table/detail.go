package table

import (
	"context"
	"errors"
	"fmt"

	logx "watchbot/pkg/logx"
)

// DetailState is the lifecycle of the per-row detail overlay.
type DetailState int

const (
	Closed DetailState = iota
	Open
)

func (s DetailState) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

var errOverlayStuck = errors.New("detail overlay could not be closed; skipping remaining details")

// detailMachine drives Closed -> Open -> Closed for one table extraction.
// If a close fails the machine stays Open and refuses further opens, so a
// stuck overlay cannot hide later rows behind it.
type detailMachine struct {
	page  Page
	spec  DetailSpec
	log   logx.Logger
	state DetailState
}

func (m *detailMachine) stuck() bool { return m.state == Open }

func (m *detailMachine) open(ctx context.Context, trigger string) error {
	if m.state != Closed {
		return errOverlayStuck
	}
	if err := m.page.Click(ctx, trigger); err != nil {
		return fmt.Errorf("click %s: %w", trigger, err)
	}
	if err := m.page.WaitVisible(ctx, m.spec.Overlay, m.spec.Timeout); err != nil {
		// The overlay may still be animating in; dismiss it blind.
		_ = m.page.PressEscape(context.WithoutCancel(ctx))
		return fmt.Errorf("overlay %s not visible: %w", m.spec.Overlay, err)
	}
	m.state = Open
	return nil
}

func (m *detailMachine) close(ctx context.Context) error {
	if m.state == Closed {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	err := m.page.Click(ctx, m.spec.Close)
	if err == nil {
		err = m.page.WaitHidden(ctx, m.spec.Overlay, m.spec.Timeout)
	}
	if err != nil {
		m.log.Debug("overlay close failed; trying escape", logx.Err(err))
		if kerr := m.page.PressEscape(ctx); kerr != nil {
			return fmt.Errorf("close overlay: %w", errors.Join(err, kerr))
		}
		if herr := m.page.WaitHidden(ctx, m.spec.Overlay, m.spec.Timeout); herr != nil {
			return fmt.Errorf("close overlay: %w", errors.Join(err, herr))
		}
	}
	m.state = Closed
	return nil
}

// read opens the overlay via trigger, captures it and always closes it.
func (m *detailMachine) read(ctx context.Context, trigger, shotName string, shots ShotSaver) (block *DetailBlock, err error) {
	if err := m.open(ctx, trigger); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := m.close(ctx); cerr != nil {
			m.log.Warn("detail overlay stuck open", logx.String("overlay", m.spec.Overlay), logx.Err(cerr))
			err = errors.Join(err, cerr)
		}
	}()

	text, err := m.page.Text(ctx, m.spec.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", m.spec.Body, err)
	}
	html, err := m.page.InnerHTML(ctx, m.spec.Body)
	if err != nil {
		html = ""
	}
	block = &DetailBlock{Text: text, HTML: html}

	png, serr := m.page.ScreenshotElement(ctx, m.spec.Overlay)
	if serr != nil || len(png) == 0 {
		png, serr = m.page.ScreenshotPage(ctx)
	}
	if serr == nil && shots != nil {
		block.ScreenshotPath, serr = shots.Save(shotName, png)
	}
	if serr != nil {
		m.log.Debug("detail screenshot skipped", logx.Err(serr))
	}
	return block, nil
}
