package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vigiauto/vigiauto/internal/pipeline"
)

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	configDir, _ := cmd.Flags().GetString("config-dir")
	rawSources, _ := cmd.Flags().GetString("sources")
	maxPages, _ := cmd.Flags().GetInt("max-pages")
	detailThreshold, _ := cmd.Flags().GetInt("detail-threshold")
	notifyThreshold, _ := cmd.Flags().GetInt("notify-threshold")
	maxDetail, _ := cmd.Flags().GetInt("max-detail")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	srcs, err := parseSources(rawSources)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, appOptions{configDir: configDir, dryRun: dryRun, sources: srcs})
	if err != nil {
		return err
	}
	defer a.Close()

	if loaded, err := a.orch.PreloadSeen(ctx); err != nil {
		log.Warn().Err(err).Msg("seen-cache preload failed, dedup starts cold")
	} else if loaded > 0 {
		log.Info().Int("fingerprints", loaded).Msg("seen cache preloaded")
	}

	stats, err := a.orch.Run(ctx, pipeline.RunParams{
		Sources:         srcs,
		MaxPages:        maxPages,
		DetailThreshold: detailThreshold,
		NotifyThreshold: notifyThreshold,
		MaxDetailPerRun: maxDetail,
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	fmt.Printf("Scan finished in %s\n", stats.Duration.Round(time.Millisecond))
	fmt.Printf("  scanned:  %d (%d new, %d duplicates, %d errors)\n",
		stats.IndexScanned, stats.IndexNew, stats.IndexDuplicates, stats.IndexErrors)
	fmt.Printf("  details:  %d fetched (%d errors)\n", stats.DetailFetched, stats.DetailErrors)
	fmt.Printf("  scoring:  %d above threshold (%d urgent, %d interessant)\n",
		stats.AboveThreshold, stats.UrgentCount, stats.InteressantCnt)
	fmt.Printf("  notified: %d (%d errors)\n", stats.Notified, stats.NotifyErrors)
	return nil
}
