package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"watchbot/internal/app"
	"watchbot/internal/monitor"
	"watchbot/internal/schedule"
	"watchbot/internal/scraper"
)

func init() {
	runCmd.Flags().StringArrayVar(&runSets, "set", nil, "scraper config override key=value (repeatable)")
	runCmd.Flags().StringArrayVar(&runParams, "param", nil, "operation parameter key=value (repeatable)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "always print the payload as JSON")
	rootCmd.AddCommand(runCmd)
}

var (
	runSets   []string
	runParams []string
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run <scraper> <operation>",
	Short: "Runs one scraper operation and prints its payload.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, op := args[0], args[1]
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		over, err := scraper.ParseAssignments(runSets)
		if err != nil {
			return err
		}
		params, err := scraper.ParseAssignments(runParams)
		if err != nil {
			return err
		}

		reg, err := app.NewRegistry()
		if err != nil {
			return err
		}
		env, err := app.ScraperEnv(cfg, newLogger())
		if err != nil {
			return err
		}
		factory := scraper.NewFactory(reg, env)
		res, err := factory.Run(cmd.Context(), name, app.ScraperConfig(cfg, name, over), op, scraper.Params(params))
		if err != nil {
			return err
		}

		if !runJSON {
			switch p := res.Payload.(type) {
			case schedule.Schedule:
				printSchedule(p)
				return nil
			case monitor.ScheduleSnapshotter:
				printSchedule(p.ScheduleSnapshot())
				return nil
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func printSchedule(s schedule.Schedule) {
	if len(s) == 0 {
		fmt.Println("schedule is empty")
		return
	}
	t := newTable()
	t.AppendHeader(table.Row{"Date", "Label", "Slots"})
	for _, d := range s {
		slots := "-"
		if d.HasSlots() {
			slots = strings.Join(d.Slots, "\n")
		}
		t.AppendRow(table.Row{d.Date, d.Label, slots})
	}
	t.Render()
}
