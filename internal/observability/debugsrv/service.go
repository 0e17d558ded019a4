// Package debugsrv serves pprof and a JSON runtime status page over HTTP.
// It binds to loopback unless a token or allow_insecure is set.
package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "watchbot/internal/runtime/supervisor"
	logx "watchbot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

var ErrInsecureBind = errors.New("debug server: non-loopback addr requires token or allow_insecure")

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
}

// Check rejects an enabled config that would expose the server without auth.
func (c Config) Check() error {
	if c.Enabled && !c.AllowInsecure && strings.TrimSpace(c.Token) == "" && !isLoopbackAddr(c.addr()) {
		return ErrInsecureBind
	}
	return nil
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

// StatusFunc returns the document served at /status.
type StatusFunc func() any

type Service struct {
	log    logx.Logger
	status StatusFunc

	mu  sync.Mutex
	cfg Config
	sup *rtsup.Supervisor
}

func New(log logx.Logger, status StatusFunc) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, status: status}
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

// Reconfigure starts, stops or restarts the server so it matches cfg.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	if err := cfg.Check(); err != nil {
		return err
	}

	s.mu.Lock()
	prev, running := s.cfg, s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	if running && (!cfg.Enabled || prev != cfg) {
		if err := s.Stop(ctx); err != nil {
			return err
		}
		running = false
	}
	if cfg.Enabled && !running {
		s.start()
	}
	return nil
}

func (s *Service) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	cfg := s.cfg
	// The debug server must never take the app down with it.
	s.sup = rtsup.New(context.Background(),
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("debug.serve", func(ctx context.Context) error {
		return s.serve(ctx, cfg)
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop shuts the server down. It is a no-op when not running.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("debug server stopped")
	return err
}

func (s *Service) serve(ctx context.Context, cfg Config) error {
	ln, err := net.Listen("tcp", cfg.addr())
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler(cfg.Token),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("debug server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}

func (s *Service) handler(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		var doc any = struct{}{}
		if s.status != nil {
			doc = s.status()
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			s.log.Warn("status encode failed", logx.Err(err))
		}
	})
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return withAuth(strings.TrimSpace(token), mux)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func withAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != token {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
