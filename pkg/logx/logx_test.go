package logx

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWithKeepsParentFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("comp", "monitor"))
	child := base.With(String("key", "chat:1"))

	base.Info("parent")
	child.Warn("child", Err(errors.New("boom")), Int("tick", 3))

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if strings.Contains(lines[0], "chat:1") {
		t.Fatalf("child field leaked into parent: %s", lines[0])
	}
	for _, want := range []string{`"comp":"monitor"`, `"key":"chat:1"`, `"err":"boom"`, `"tick":3`} {
		if !strings.Contains(lines[1], want) {
			t.Fatalf("child line missing %s: %s", want, lines[1])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("hidden")
	l.Error("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if l.Enabled(LevelDebug) || !l.Enabled(LevelError) {
		t.Fatal("Enabled disagrees with level")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	got := FormatChatLine([]byte(`{"level":"warn","time":"x","message":"tick failed","key":"chat:1","err":"timeout"}` + "\n"))
	want := "[WARN] tick failed\n- err=timeout\n- key=chat:1"
	if got != want {
		t.Fatalf("FormatChatLine = %q, want %q", got, want)
	}
	if got := FormatChatLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-JSON line = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if ParseLevel(" Warning ", LevelInfo) != LevelWarn || ParseLevel("bogus", LevelDebug) != LevelDebug {
		t.Fatal("ParseLevel mismatch")
	}
}
