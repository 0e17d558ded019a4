package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"watchbot/internal/storage"
	logx "watchbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("panic recovered",
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{logx.Duration("dur", d)}
			switch {
			case err != nil:
				req.Log.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				// Keep INFO useful: short successful requests go to DEBUG.
				req.Log.Info("request ok", fields...)
			default:
				req.Log.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// Auditor records executed commands. storage.Store satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// MWAudit writes one audit entry per command, after it finished.
func MWAudit(a Auditor) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if a == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			e := storage.AuditEntry{
				At:       start,
				ChatID:   req.Chat.ChatID,
				UserID:   req.FromID,
				Username: req.Username,
				Command:  req.Command,
				Args:     strings.Join(req.Args, " "),
				OK:       err == nil,
				TookMS:   time.Since(start).Milliseconds(),
			}
			if req.Sensitive && e.Args != "" {
				e.Args = "[redacted]"
			}
			if err != nil {
				e.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if aerr := a.AppendAudit(actx, e); aerr != nil {
				req.Log.Debug("audit write failed", logx.Err(aerr))
			}
			return err
		}
	}
}
