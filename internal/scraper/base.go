package scraper

import (
	"context"
	"sync"

	"watchbot/internal/scraper/browser"
	logx "watchbot/pkg/logx"
)

// Base implements the session bookkeeping shared by browser scrapers.
// Embed it and call Init from the constructor.
type Base struct {
	desc Descriptor
	cfg  Config
	env  Env
	log  logx.Logger

	mu            sync.Mutex
	sess          *browser.Session
	authenticated bool
	released      bool
}

func (b *Base) Init(desc Descriptor, cfg Config, env Env) {
	env = env.withDefaults()
	b.desc = desc
	b.cfg = cfg
	b.env = env
	b.log = env.Log
}

func (b *Base) Descriptor() Descriptor { return b.desc }
func (b *Base) Config() Config         { return b.cfg }
func (b *Base) Env() Env               { return b.env }
func (b *Base) Log() logx.Logger       { return b.log }

// Shots returns the screenshot writer for this scraper.
func (b *Base) Shots() *browser.ShotWriter { return b.env.Shots.For(b.desc.Name) }

func (b *Base) Acquire(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}
	if b.sess != nil {
		return nil
	}
	if b.env.Browser == nil {
		return InvalidConfig("no browser launcher configured")
	}
	s, err := b.env.Browser.Launch(ctx)
	if err != nil {
		return err
	}
	b.sess = s
	return nil
}

// Session returns the acquired browser session.
func (b *Base) Session() (*browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, ErrReleased
	}
	if b.sess == nil {
		return nil, Extraction("session", browser.ErrClosed)
	}
	return b.sess, nil
}

func (b *Base) MarkAuthenticated(ok bool) {
	b.mu.Lock()
	b.authenticated = ok
	b.mu.Unlock()
}

func (b *Base) Authenticated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authenticated
}

// CheckOp returns ErrUnsupportedOperation for ops outside the descriptor.
func (b *Base) CheckOp(op string) error {
	if !b.desc.Supports(op) {
		return Unsupported(b.desc.Name, op)
	}
	return nil
}

// Release closes the browser session. Repeated calls are no-ops.
func (b *Base) Release() error {
	b.mu.Lock()
	sess := b.sess
	b.sess = nil
	b.released = true
	b.authenticated = false
	b.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}

func (b *Base) health(configErr error) Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	ready := b.sess != nil && b.sess.Ready()
	return Health{
		Scraper:       b.desc.Name,
		BrowserReady:  ready,
		PageReady:     ready && b.authenticated,
		ConfigValid:   configErr == nil,
		Authenticated: b.authenticated,
	}
}

// HealthFor builds a Health snapshot given the scraper's config check.
func (b *Base) HealthFor(validate func() error) Health {
	var err error
	if validate != nil {
		err = validate()
	}
	return b.health(err)
}
