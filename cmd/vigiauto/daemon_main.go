package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vigiauto/vigiauto/internal/config"
	opshttp "github.com/vigiauto/vigiauto/internal/interfaces/http"
	"github.com/vigiauto/vigiauto/internal/notify"
	"github.com/vigiauto/vigiauto/internal/runner"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	configDir, _ := cmd.Flags().GetString("config-dir")
	listen, _ := cmd.Flags().GetString("listen")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	a, err := buildApp(ctx, appOptions{configDir: configDir, dryRun: dryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	if loaded, err := a.orch.PreloadSeen(ctx); err != nil {
		log.Warn().Err(err).Msg("seen-cache preload failed, dedup starts cold")
	} else if loaded > 0 {
		log.Info().Int("fingerprints", loaded).Msg("seen cache preloaded")
	}

	// Ops pings go out even when the main webhook is unset: LoadSettings
	// falls back from OPS_WEBHOOK_URL to DISCORD_WEBHOOK_URL, so this is
	// only nil when neither is configured.
	var alerter runner.Alerter
	if !dryRun && a.cfg.Settings.OpsWebhookURL != "" {
		alerter = notify.NewOpsAlerter(a.cfg.Settings.OpsWebhookURL, log.Logger)
	}

	r := runner.New(runner.Config{
		Pipeline:   a.orch,
		Limiter:    a.limiter,
		Alerter:    alerter,
		Logger:     log.Logger,
		ConfigPath: config.SearchesPath(a.cfg.Dir),
	})

	if listen == "" {
		listen = a.cfg.Settings.HTTPAddr
	}
	srvCfg, err := listenConfig(listen)
	if err != nil {
		return err
	}
	srv := opshttp.NewServer(srvCfg, a.opsDeps())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Address()).Msg("ops server listening")
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})
	g.Go(func() error {
		return r.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
