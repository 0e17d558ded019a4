// Package router dispatches chat commands to handlers on a bounded worker
// pool, with access control, panic recovery, request logging and audit.
package router

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "watchbot/internal/runtime/supervisor"
	kit "watchbot/internal/transport"
	logx "watchbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessAllowed admits owners and allowed users; when both lists are
	// empty it admits everyone.
	AccessAllowed
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Sensitive keeps arguments out of the audit log.
	Sensitive bool
	Timeout   time.Duration // optional per-command override
	Handle    HandlerFunc
}

type Request struct {
	Msg       *kit.Message
	Chat      kit.ChatTarget
	FromID    int64
	Username  string
	Command   string
	Args      []string // positionals
	Flags     map[string]string
	BoolFlags map[string]bool
	// Rest is the raw text after the command word.
	Rest      string
	Sensitive bool
	ReqID     string

	Adapter kit.Sender
	Log     logx.Logger
}

// Reply sends plain text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Router struct {
	mu       sync.RWMutex
	cmds     map[string]*Command // name and aliases
	ordered  []*Command
	owners   []int64
	allowed  []int64
	timeout  time.Duration
	auditor  Auditor
	unknown  string
	denied   string
	busyText string

	log     logx.Logger
	adapter kit.Sender

	jobs chan func()
}

type Option func(*Router)

// WithDefaultTimeout bounds commands that set no Timeout.
func WithDefaultTimeout(d time.Duration) Option { return func(r *Router) { r.timeout = d } }

func WithAuditor(a Auditor) Option { return func(r *Router) { r.auditor = a } }

// WithTexts overrides the replies for unknown commands, denied access and a
// full queue.
func WithTexts(unknown, denied, busy string) Option {
	return func(r *Router) {
		r.unknown, r.denied, r.busyText = unknown, denied, busy
	}
}

func New(log logx.Logger, adapter kit.Sender, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cmds:     map[string]*Command{},
		timeout:  2 * time.Minute,
		unknown:  "unknown command, try /help",
		denied:   "unauthorized",
		busyText: "busy, try again",
		log:      log,
		adapter:  adapter,
		jobs:     make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetAccess updates owner and allowed user lists. Safe during hot reload.
func (r *Router) SetAccess(owners, allowed []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.allowed = slices.Clone(allowed)
	r.mu.Unlock()
}

// SetCommands replaces the command table and adds /help.
func (r *Router) SetCommands(cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Description: "list commands",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.FromID))
		},
	})

	table := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := table[a]; !taken {
					table[a] = c
				}
			}
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	r.mu.Lock()
	r.cmds = table
	r.ordered = ordered
	r.mu.Unlock()
}

// MenuCommands returns the command list for the platform menu. Owner-only
// commands are marked with a lock.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.ordered))
	for _, c := range r.ordered {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	return out
}

func (r *Router) helpText(from int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for _, c := range r.ordered {
		if !r.permitted(c.Access, from) {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// permitted must be called with r.mu held.
func (r *Router) permitted(a Access, from int64) bool {
	switch a {
	case AccessOwnerOnly:
		return slices.Contains(r.owners, from)
	case AccessAllowed:
		if len(r.owners) == 0 && len(r.allowed) == 0 {
			return true
		}
		return slices.Contains(r.owners, from) || slices.Contains(r.allowed, from)
	default:
		return true
	}
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx ends or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := range workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		// Give in-flight commands a moment before cancelling them.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	word, rest, ok := commandWord(msg.Text)
	if !ok {
		return
	}

	r.mu.RLock()
	cmd, found := r.cmds[word]
	allowed := found && r.permitted(cmd.Access, msg.FromID)
	timeout := r.timeout
	r.mu.RUnlock()

	to := msg.Target()
	if !found {
		_, _ = r.adapter.SendText(ctx, to, r.unknown, nil)
		return
	}
	if !allowed {
		_, _ = r.adapter.SendText(ctx, to, r.denied, nil)
		return
	}
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}

	rid := newReqID()
	pos, flags, bools := parseFlags(tokenizeCommandLine(rest))
	req := &Request{
		Msg:       msg,
		Chat:      to,
		FromID:    msg.FromID,
		Username:  msg.FromUsername,
		Command:   cmd.Name,
		Args:      pos,
		Flags:     flags,
		BoolFlags: bools,
		Rest:      rest,
		Sensitive: cmd.Sensitive,
		ReqID:     rid,
		Adapter:   r.adapter,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(),
		MWAudit(r.auditor),
		MWTimeout(timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, to, r.busyText, nil)
	}
}

// sanitizeCommand converts a name into a Telegram-safe bot command.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '_':
			b.WriteRune(ch)
		case ch == '-' || ch == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}
