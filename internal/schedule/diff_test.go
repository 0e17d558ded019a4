package schedule

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func day(date string, slots ...string) DaySchedule {
	return DaySchedule{Date: MustDate(date), Slots: SlotSet(slots...)}
}

func TestDiffIdenticalSchedulesIsEmpty(t *testing.T) {
	t.Parallel()
	s := Schedule{
		day("2024-11-20", "08:00-08:30"),
		day("2024-11-21", "14:00-14:30", "14:30-15:00"),
		day("2024-11-22"),
	}
	if got := Diff(s, s); len(got) != 0 {
		t.Fatalf("Diff(s, s) = %+v, want empty", got)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		prev Schedule
		next Schedule
		want []Delta
	}{
		{
			name: "single slot added",
			prev: Schedule{day("2024-11-21", "14:00-14:30")},
			next: Schedule{day("2024-11-21", "14:00-14:30", "18:00-18:30")},
			want: []Delta{{Date: MustDate("2024-11-21"), Kind: DayModified, Added: []string{"18:00-18:30"}}},
		},
		{
			name: "slot removed",
			prev: Schedule{day("2024-11-21", "14:00-14:30", "18:00-18:30")},
			next: Schedule{day("2024-11-21", "18:00-18:30")},
			want: []Delta{{Date: MustDate("2024-11-21"), Kind: DayModified, Removed: []string{"14:00-14:30"}}},
		},
		{
			name: "new date with slots",
			prev: Schedule{day("2024-11-21")},
			next: Schedule{day("2024-11-21"), day("2024-11-22", "10:00-10:30")},
			want: []Delta{{Date: MustDate("2024-11-22"), Kind: DayAdded, Added: []string{"10:00-10:30"}}},
		},
		{
			name: "new date without slots",
			prev: Schedule{day("2024-11-21")},
			next: Schedule{day("2024-11-21"), day("2024-11-22")},
			want: nil,
		},
		{
			name: "date only in prev is ignored",
			prev: Schedule{day("2024-11-20", "01:00-01:30"), day("2024-11-21", "02:00-02:30")},
			next: Schedule{day("2024-11-21", "02:00-02:30")},
			want: nil,
		},
		{
			name: "output follows next order",
			prev: Schedule{day("2024-11-21", "02:00-02:30")},
			next: Schedule{
				day("2024-11-21", "03:00-03:30"),
				day("2024-11-22", "04:00-04:30"),
			},
			want: []Delta{
				{Date: MustDate("2024-11-21"), Kind: DayModified, Added: []string{"03:00-03:30"}, Removed: []string{"02:00-02:30"}},
				{Date: MustDate("2024-11-22"), Kind: DayAdded, Added: []string{"04:00-04:30"}},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Diff(tt.prev, tt.next)
			if d := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); d != "" {
				t.Fatalf("Diff mismatch (-want +got):\n%s", d)
			}
		})
	}
}

func TestDiffEveningSlotAppears(t *testing.T) {
	t.Parallel()
	prev := Schedule{
		day("2024-11-20", "08:00-08:30"),
		day("2024-11-21", "14:00-14:30", "14:30-15:00"),
		day("2024-11-22"),
	}
	next := Schedule{
		day("2024-11-20", "08:00-08:30"),
		day("2024-11-21", "14:00-14:30", "14:30-15:00", "18:00-18:30"),
		day("2024-11-22"),
	}
	got := Diff(prev, next)
	want := []Delta{{
		Date:    MustDate("2024-11-21"),
		Kind:    DayModified,
		Added:   []string{"18:00-18:30"},
		Removed: []string{},
	}}
	if d := cmp.Diff(want, got); d != "" {
		t.Fatalf("Diff mismatch (-want +got):\n%s", d)
	}
}

func TestNormalizeMergesAndSorts(t *testing.T) {
	t.Parallel()
	got := Normalize([]DaySchedule{
		{Date: MustDate("2024-11-22"), Slots: []string{"10:00-10:30"}},
		{Date: MustDate("2024-11-21"), Label: "21.11 ЧТ", Slots: []string{" 09:00-09:30 ", "08:00-08:30"}},
		{Date: MustDate("2024-11-22"), Slots: []string{"09:00-09:30", "10:00-10:30"}},
	})
	want := Schedule{
		{Date: MustDate("2024-11-21"), Label: "21.11 ЧТ", Slots: []string{"08:00-08:30", "09:00-09:30"}},
		{Date: MustDate("2024-11-22"), Slots: []string{"09:00-09:30", "10:00-10:30"}},
	}
	if d := cmp.Diff(want, got); d != "" {
		t.Fatalf("Normalize mismatch (-want +got):\n%s", d)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestWindowFillsMissingDays(t *testing.T) {
	t.Parallel()
	s := Schedule{day("2024-12-31", "10:00-10:30"), day("2025-01-02", "11:00-11:30")}
	got := Window(s, MustDate("2024-12-31"), 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	wantDates := []string{"2024-12-31", "2025-01-01", "2025-01-02"}
	for i, d := range got {
		if d.Date.String() != wantDates[i] {
			t.Fatalf("day %d = %s, want %s", i, d.Date, wantDates[i])
		}
	}
	if got[1].HasSlots() {
		t.Fatalf("filled day should be empty, got %v", got[1].Slots)
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	t.Parallel()
	s := Schedule{day("2024-11-21"), day("2024-11-21")}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for duplicate date")
	}
}
