package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"watchbot/internal/storage"
	kit "watchbot/internal/transport"
	logx "watchbot/pkg/logx"
)

type replyAdapter struct {
	sent chan string
}

func (a *replyAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *replyAdapter) Stop(context.Context) error                     { return nil }
func (a *replyAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.sent <- text
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

type auditLog struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (l *auditLog) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func TestTokenizeAndFlags(t *testing.T) {
	t.Parallel()
	toks := tokenizeCommandLine(`street="Main St" house=4 --days 3 --force`)
	pos, flags, bools := parseFlags(toks)
	if diff := cmp.Diff([]string{"street=Main St", "house=4"}, pos); diff != "" {
		t.Fatalf("positionals (-want +got):\n%s", diff)
	}
	if flags["days"] != "3" || !bools["force"] {
		t.Fatalf("flags = %v bools = %v", flags, bools)
	}

	tests := []struct {
		in, word, rest string
		ok             bool
	}{
		{"/watch_now", "watch_now", "", true},
		{"/Watch_Start@my_bot 30m", "watch_start", "30m", true},
		{"/watch_setup\nstreet=Main", "watch_setup", "street=Main", true},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		word, rest, ok := commandWord(tt.in)
		if word != tt.word || rest != tt.rest || ok != tt.ok {
			t.Fatalf("commandWord(%q) = %q, %q, %v", tt.in, word, rest, ok)
		}
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"watch_now":  "watch_now",
		"Watch-Now":  "watch_now",
		" scrapers ": "scrapers",
		"__x__":      "x",
		"мой":        "",
	}
	for in, want := range tests {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDispatchAccessAndAudit(t *testing.T) {
	t.Parallel()
	ad := &replyAdapter{sent: make(chan string, 16)}
	audit := &auditLog{}
	r := New(logx.Nop(), ad, WithAuditor(audit))
	r.SetAccess([]int64{1}, []int64{2})
	r.SetCommands([]Command{
		{Name: "watch_now", Access: AccessAllowed, Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "now:"+req.Rest)
		}},
		{Name: "admin", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "admin ok")
		}},
		{Name: "watch_setup", Access: AccessAllowed, Sensitive: true, Handle: func(ctx context.Context, req *Request) error {
			return errors.New("bad address")
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()

	send := func(from int64, text string) string {
		t.Helper()
		updates <- kit.Update{Message: &kit.Message{ChatID: 100, FromID: from, Text: text}}
		select {
		case s := <-ad.sent:
			return s
		case <-time.After(2 * time.Second):
			t.Fatalf("no reply to %q", text)
			return ""
		}
	}

	if got := send(2, "/watch_now today"); got != "now:today" {
		t.Fatalf("allowed user got %q", got)
	}
	if got := send(3, "/watch_now"); got != "unauthorized" {
		t.Fatalf("stranger got %q", got)
	}
	if got := send(2, "/admin"); got != "unauthorized" {
		t.Fatalf("non-owner got %q", got)
	}
	if got := send(1, "/admin"); got != "admin ok" {
		t.Fatalf("owner got %q", got)
	}
	if got := send(1, "/nope"); got != "unknown command, try /help" {
		t.Fatalf("unknown got %q", got)
	}
	if got := send(2, "/help"); got != "/help - list commands\n/watch_now - \n/watch_setup - " {
		t.Fatalf("help = %q", got)
	}

	updates <- kit.Update{Message: &kit.Message{ChatID: 100, FromID: 2, Text: "/watch_setup password=secret"}}
	deadline := time.Now().Add(2 * time.Second)
	for {
		audit.mu.Lock()
		n := len(audit.entries)
		audit.mu.Unlock()
		if n >= 4 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	audit.mu.Lock()
	defer audit.mu.Unlock()
	var setup *storage.AuditEntry
	for i := range audit.entries {
		if audit.entries[i].Command == "watch_setup" {
			setup = &audit.entries[i]
		}
	}
	if setup == nil {
		t.Fatalf("watch_setup not audited: %+v", audit.entries)
	}
	if setup.OK || setup.Error != "bad address" || setup.Args != "[redacted]" {
		t.Fatalf("audit entry = %+v", *setup)
	}
}
