package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigiauto/vigiauto/internal/config"
	"github.com/vigiauto/vigiauto/internal/storage"
	"github.com/vigiauto/vigiauto/internal/storage/postgres"
)

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	recent, _ := cmd.Flags().GetInt("recent")

	settings := config.LoadSettings()
	if settings.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}

	pgCfg := postgres.DefaultConfig(settings.DatabaseURL)
	db, err := postgres.Open(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	store := postgres.NewStore(db, pgCfg.QueryTimeout)

	global, err := store.Stats.Global(ctx)
	if err != nil {
		return fmt.Errorf("global stats: %w", err)
	}
	bySource, err := store.Stats.BySource(ctx)
	if err != nil {
		return fmt.Errorf("per-source stats: %w", err)
	}
	scans, err := store.Scans.Recent(ctx, recent)
	if err != nil {
		return fmt.Errorf("recent scans: %w", err)
	}

	payload := struct {
		GeneratedAt time.Time                `json:"generated_at"`
		Global      storage.GlobalStats      `json:"global"`
		BySource    []storage.SourceActivity `json:"by_source"`
		RecentScans []storage.ScanRecord     `json:"recent_scans,omitempty"`
	}{
		GeneratedAt: time.Now().UTC(),
		Global:      global,
		BySource:    bySource,
		RecentScans: scans,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
