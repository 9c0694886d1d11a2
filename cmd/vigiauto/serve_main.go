package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vigiauto/vigiauto/internal/config"
	opshttp "github.com/vigiauto/vigiauto/internal/interfaces/http"
	"github.com/vigiauto/vigiauto/internal/metrics"
	"github.com/vigiauto/vigiauto/internal/storage/postgres"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	listen, _ := cmd.Flags().GetString("listen")

	settings := config.LoadSettings()
	if settings.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if listen == "" {
		listen = settings.HTTPAddr
	}
	srvCfg, err := listenConfig(listen)
	if err != nil {
		return err
	}

	pgCfg := postgres.DefaultConfig(settings.DatabaseURL)
	db, err := postgres.Open(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	store := postgres.NewStore(db, pgCfg.QueryTimeout)

	// No limiter here: a serve-only process never scrapes, so there is
	// no circuit state to report.
	srv := opshttp.NewServer(srvCfg, opshttp.Deps{
		Stats:   store.Stats,
		Scans:   store.Scans,
		Metrics: metrics.New(),
		Version: version,
		Logger:  log.Logger,
	})

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

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
