// Package main is the vigiauto CLI: one-shot scans, the monitoring
// daemon, repository stats and the ops HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vigiauto/vigiauto/internal/config"
)

const version = "v0.9.3"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	setupLogger()

	rootCmd := &cobra.Command{
		Use:     "vigiauto",
		Short:   "VigiAuto - used-car marketplace monitor",
		Long:    "VigiAuto watches used-car marketplaces, scores fresh listings against the configured vehicle targets and pings Discord for the good ones.",
		Version: version,
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the scan pipeline once and print a summary",
		RunE:  runScan,
	}
	scanCmd.Flags().String("config-dir", config.DefaultDir, "Directory holding vehicles.yaml, keywords.yaml and searches.yaml")
	scanCmd.Flags().String("sources", "", "Comma-separated sources to scan (default: every registered source)")
	scanCmd.Flags().Int("max-pages", 2, "Index pages to walk per source")
	scanCmd.Flags().Int("detail-threshold", 0, "Minimum index score before the detail page is fetched (0 = default)")
	scanCmd.Flags().Int("notify-threshold", 0, "Minimum score before a listing is pushed to Discord (0 = default)")
	scanCmd.Flags().Int("max-detail", 0, "Cap on detail fetches for the run (0 = default)")
	scanCmd.Flags().Bool("dry-run", false, "Use mock sources and an in-memory store, log instead of notifying")

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scan loop until interrupted",
		RunE:  runDaemon,
	}
	daemonCmd.Flags().String("config-dir", config.DefaultDir, "Directory holding vehicles.yaml, keywords.yaml and searches.yaml")
	daemonCmd.Flags().String("listen", "", "Ops HTTP listen address, e.g. :8090 (default: HTTP_ADDR, empty disables)")
	daemonCmd.Flags().Bool("dry-run", false, "Use mock sources and an in-memory store, log instead of notifying")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Dump repository stats as JSON",
		RunE:  runStats,
	}
	statsCmd.Flags().Int("recent", 10, "Number of recent scans to include")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP server without scanning",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", "", "Listen address, e.g. 127.0.0.1:8090 (default: HTTP_ADDR)")

	rootCmd.AddCommand(scanCmd, daemonCmd, statsCmd, serveCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// setupLogger configures the global zerolog logger: pretty console output
// on a terminal, JSON otherwise, level from LOG_LEVEL (DEBUG=1 overrides).
func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	level := zerolog.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	if os.Getenv("DEBUG") == "1" || strings.EqualFold(os.Getenv("DEBUG"), "true") {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}
