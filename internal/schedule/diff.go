package schedule

// DeltaKind classifies a per-date change between two schedules.
type DeltaKind string

const (
	DayAdded    DeltaKind = "day_added"
	DayModified DeltaKind = "day_modified"
)

type Delta struct {
	Date    Date      `json:"date"`
	Label   string    `json:"label,omitempty"`
	Kind    DeltaKind `json:"kind"`
	Added   []string  `json:"added"`
	Removed []string  `json:"removed"`
}

// Diff compares two schedules keyed by date.
//
// A date present only in next yields DayAdded when it has slots. A date
// present in both yields DayModified when the slot sets differ. Dates present
// only in prev are ignored. Output follows the day order of next.
func Diff(prev, next Schedule) []Delta {
	before := make(map[Date][]string, len(prev))
	for _, d := range prev {
		before[d.Date] = d.Slots
	}

	var out []Delta
	for _, day := range next {
		was, ok := before[day.Date]
		if !ok {
			if day.HasSlots() {
				out = append(out, Delta{
					Date:    day.Date,
					Label:   day.Label,
					Kind:    DayAdded,
					Added:   SlotSet(day.Slots...),
					Removed: []string{},
				})
			}
			continue
		}
		added := subtract(day.Slots, was)
		removed := subtract(was, day.Slots)
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		out = append(out, Delta{
			Date:    day.Date,
			Label:   day.Label,
			Kind:    DayModified,
			Added:   added,
			Removed: removed,
		})
	}
	return out
}

// subtract returns the sorted set a \ b.
func subtract(a, b []string) []string {
	drop := make(map[string]struct{}, len(b))
	for _, s := range SlotSet(b...) {
		drop[s] = struct{}{}
	}
	out := []string{}
	for _, s := range SlotSet(a...) {
		if _, ok := drop[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
