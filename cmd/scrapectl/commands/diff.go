package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"watchbot/internal/schedule"
)

func init() {
	rootCmd.AddCommand(diffCmd)
}

var diffCmd = &cobra.Command{
	Use:   "diff <old.json> <new.json>",
	Short: "Prints the changes between two saved schedules.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prev, err := readSchedule(args[0])
		if err != nil {
			return err
		}
		next, err := readSchedule(args[1])
		if err != nil {
			return err
		}

		deltas := schedule.Diff(prev, next)
		if len(deltas) == 0 {
			fmt.Println("no changes")
			return nil
		}
		t := newTable()
		t.AppendHeader(table.Row{"Date", "Change", "Added", "Removed"})
		for _, d := range deltas {
			t.AppendRow(table.Row{d.Date, d.Kind, strings.Join(d.Added, "\n"), strings.Join(d.Removed, "\n")})
		}
		t.Render()
		return nil
	},
}

// readSchedule accepts a bare day array, an object carrying it under
// "schedule", or the output of run --json.
func readSchedule(path string) (schedule.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var days []schedule.DaySchedule
		if err := json.Unmarshal(data, &days); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return schedule.Normalize(days), nil
	}

	var doc struct {
		Schedule []schedule.DaySchedule `json:"schedule"`
		Payload  *struct {
			Schedule []schedule.DaySchedule `json:"schedule"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	switch {
	case doc.Schedule != nil:
		return schedule.Normalize(doc.Schedule), nil
	case doc.Payload != nil && doc.Payload.Schedule != nil:
		return schedule.Normalize(doc.Payload.Schedule), nil
	}
	return nil, fmt.Errorf("%s: no schedule found", path)
}
