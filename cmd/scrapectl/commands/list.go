package commands

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"watchbot/internal/app"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Prints the registered scrapers and their operations.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := app.NewRegistry()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Scraper", "Version", "Enabled", "Operations", "Description"})
		for _, d := range reg.List() {
			t.AppendRow(table.Row{d.Name, d.Version, cfg.Scrapers[d.Name].Enabled, strings.Join(d.Operations, "\n"), d.Description})
		}
		t.Render()
		return nil
	},
}
