// Package commands implements the scrapectl command line.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"watchbot/internal/config"
	logx "watchbot/pkg/logx"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "scrapectl",
	Short:        "scrapectl runs watchbot scrapers outside the bot.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "bot config (json or yaml) for scraper defaults and browser settings")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "console log level")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config without the bot-only checks. An empty path
// yields a zero config.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return &config.Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return config.Decode(configPath, data)
}

func newLogger() logx.Logger {
	return logx.NewConsole(logLevel).With(logx.String("comp", "scrapectl"))
}
