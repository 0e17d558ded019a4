package scraper

import (
	"context"
	"time"

	logx "watchbot/pkg/logx"
)

type CreateOptions struct {
	// Acquire starts the browser session before returning.
	Acquire bool
	// Authenticate runs Authenticate after Acquire.
	Authenticate bool
}

var DefaultCreate = CreateOptions{Acquire: true, Authenticate: true}

// Factory builds scraper sessions by name from an injected Registry.
type Factory struct {
	reg *Registry
	env Env
	log logx.Logger
}

func NewFactory(reg *Registry, env Env) *Factory {
	env = env.withDefaults()
	return &Factory{reg: reg, env: env, log: env.Log.With(logx.String("comp", "scraper.factory"))}
}

func (f *Factory) Registry() *Registry { return f.reg }

func (f *Factory) build(name string, cfg Config) (Scraper, error) {
	_, ctor, ok := f.reg.Lookup(name)
	if !ok {
		return nil, &CreationError{Kind: CreateUnknown, Scraper: name}
	}
	env := f.env
	env.Log = f.env.Log.With(logx.String("scraper", name))
	s, err := ctor(cfg.Clone(), env)
	if err != nil {
		return nil, &CreationError{Kind: CreateConstruction, Scraper: name, Err: err}
	}
	if err := s.ValidateConfig(); err != nil {
		_ = s.Release()
		return nil, &CreationError{Kind: CreateInvalidConfig, Scraper: name, Err: err}
	}
	return s, nil
}

// Validate constructs name with cfg and runs ValidateConfig without
// acquiring any resources.
func (f *Factory) Validate(name string, cfg Config) error {
	s, err := f.build(name, cfg)
	if err != nil {
		return err
	}
	return s.Release()
}

// Create builds, validates and (per opts) acquires and authenticates a
// scraper. Anything acquired inside Create is released when Create fails;
// on success the caller owns Release.
func (f *Factory) Create(ctx context.Context, name string, cfg Config, opts CreateOptions) (Scraper, error) {
	start := time.Now()
	s, err := f.build(name, cfg)
	if err != nil {
		f.log.Warn("scraper create failed", logx.String("scraper", name), logx.Err(err))
		return nil, err
	}
	if !opts.Acquire {
		return s, nil
	}

	if err := s.Acquire(ctx); err != nil {
		_ = s.Release()
		cerr := &CreationError{Kind: CreateConstruction, Scraper: name, Err: err}
		f.log.Warn("scraper acquire failed", logx.String("scraper", name), logx.Err(err))
		return nil, cerr
	}
	if opts.Authenticate {
		if err := s.Authenticate(ctx); err != nil {
			_ = s.Release()
			f.log.Warn("scraper authenticate failed", logx.String("scraper", name), logx.Err(err))
			return nil, &CreationError{Kind: CreateAuthFailed, Scraper: name, Err: err}
		}
	}
	f.log.Debug("scraper session ready", logx.String("scraper", name), logx.Duration("took", time.Since(start)))
	return s, nil
}

// With creates a fully authenticated session, runs fn and always releases
// the session afterwards.
func (f *Factory) With(ctx context.Context, name string, cfg Config, fn func(ctx context.Context, s Scraper) error) error {
	s, err := f.Create(ctx, name, cfg, DefaultCreate)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := s.Release(); rerr != nil {
			f.log.Debug("scraper release failed", logx.String("scraper", name), logx.Err(rerr))
		}
	}()
	return fn(ctx, s)
}

// Run is a convenience for one-shot extraction through With.
func (f *Factory) Run(ctx context.Context, name string, cfg Config, op string, p Params) (Result, error) {
	var res Result
	err := f.With(ctx, name, cfg, func(ctx context.Context, s Scraper) error {
		var err error
		res, err = s.Extract(ctx, op, p)
		return err
	})
	return res, err
}
