// Package main is the entry point for the form relay.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/shineum/form-relay/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "form-relay",
	Short: "Relay web form submissions to email",
	Long: `form-relay accepts POSTed web forms, checks them with Cloudflare
Turnstile, and emails the submitted fields to the endpoint's recipient.

Example:
  form-relay serve --config config.yml
  form-relay check --config config.yml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yml", "path to YAML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration file (YAML + env override).
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// setupLogger configures the global slog logger. The json format writes
// slog JSON records; text uses the charm log handler.
func setupLogger(cfg config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		charmLevel, err := log.ParseLevel(cfg.Level)
		if err != nil {
			charmLevel = log.InfoLevel
		}
		handler = log.NewWithOptions(os.Stdout, log.Options{
			Level:           charmLevel,
			ReportTimestamp: true,
			Prefix:          "form-relay",
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
