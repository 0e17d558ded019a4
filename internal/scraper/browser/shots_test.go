package browser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestShotWriterSaveUsesScraperDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	d := NewShotDir(root)
	d.now = func() time.Time { return time.Date(2024, 11, 21, 18, 5, 9, 0, time.UTC) }

	path, err := d.For("report").Save("scam_12_John Doe", []byte("png"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := filepath.Join(root, "report", "scam_12_John_Doe_20241121_180509.png")
	if path != want {
		t.Fatalf("path = %s, want %s", path, want)
	}
	if b, err := os.ReadFile(path); err != nil || string(b) != "png" {
		t.Fatalf("ReadFile = %q, %v", b, err)
	}
}

func TestShotWriterRejectsEmpty(t *testing.T) {
	t.Parallel()
	if _, err := NewShotDir(t.TempDir()).For("x").Save("a", nil); err == nil {
		t.Fatal("expected error for empty screenshot")
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"../../etc/passwd": "etc_passwd",
		"Іван Петренко":    "Іван_Петренко",
		"":                 "shot",
		"a/b":              "a_b",
	}
	for in, want := range tests {
		if got := sanitize(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPruneRemovesOldPNGOnly(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := filepath.Join(root, "outage")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	write := func(name string, age time.Duration) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		ts := now.Add(-age)
		if err := os.Chtimes(p, ts, ts); err != nil {
			t.Fatal(err)
		}
		return p
	}
	old := write("old.png", 48*time.Hour)
	fresh := write("fresh.png", time.Hour)
	notes := write("notes.txt", 48*time.Hour)

	n, err := NewShotDir(root).Prune(24*time.Hour, now)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	for _, p := range []string{fresh, notes} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s should remain: %v", filepath.Base(p), err)
		}
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("old.png should be removed, stat err = %v", err)
	}
}

func TestPruneMissingRoot(t *testing.T) {
	t.Parallel()
	n, err := NewShotDir(filepath.Join(t.TempDir(), "missing")).Prune(time.Hour, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("Prune = %d, %v; want 0, nil", n, err)
	}
	if strings.TrimSpace(NewShotDir("").Root()) == "" {
		t.Fatal("default root should not be empty")
	}
}
