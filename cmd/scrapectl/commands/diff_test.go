package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"watchbot/internal/schedule"
)

func TestReadSchedule(t *testing.T) {
	t.Parallel()

	want := schedule.Schedule{
		{Date: schedule.MustDate("2025-11-20"), Label: "20.11 СР", Slots: []string{"08:00-12:00"}},
		{Date: schedule.MustDate("2025-11-21"), Slots: []string{"14:00-18:00", "20:00-22:00"}},
	}

	cases := []struct {
		name string
		body string
	}{
		{"array", `[
			{"date":"2025-11-21","slots":["20:00-22:00","14:00-18:00"]},
			{"date":"2025-11-20","label":"20.11 СР","slots":["08:00-12:00"]}
		]`},
		{"object", `{"schedule":[
			{"date":"2025-11-20","label":"20.11 СР","slots":["08:00-12:00"]},
			{"date":"2025-11-21","slots":["14:00-18:00","20:00-22:00"]}
		]}`},
		{"run output", `{"success":true,"payload":{"address":{},"schedule":[
			{"date":"2025-11-20","label":"20.11 СР","slots":["08:00-12:00"]},
			{"date":"2025-11-21","slots":["14:00-18:00"]},
			{"date":"2025-11-21","slots":["20:00-22:00"]}
		]},"at":"2025-11-20T10:00:00Z"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "s.json")
			if err := os.WriteFile(path, []byte(tc.body), 0o600); err != nil {
				t.Fatal(err)
			}
			got, err := readSchedule(path)
			if err != nil {
				t.Fatalf("readSchedule: %v", err)
			}
			if d := cmp.Diff(want, got); d != "" {
				t.Fatalf("schedule mismatch (-want +got):\n%s", d)
			}
		})
	}
}

func TestReadScheduleRejects(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"no schedule": `{"success":false,"error":"boom"}`,
		"bad date":    `[{"date":"21.11","slots":[]}]`,
		"not json":    `schedule`,
	} {
		path := filepath.Join(t.TempDir(), "s.json")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := readSchedule(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
