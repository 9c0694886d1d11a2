package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OpsAlerter pushes the daemon's out-of-band notices (start/stop,
// zero-yield streaks, crash streaks) to a webhook. Everything here is
// best-effort: failures are logged and swallowed so a dead webhook never
// stalls the loop, and an empty URL turns the alerter into a logger.
type OpsAlerter struct {
	webhookURL string
	username   string
	http       *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewOpsAlerter builds the alerter. An empty webhookURL is valid.
func NewOpsAlerter(webhookURL string, logger zerolog.Logger) *OpsAlerter {
	return &OpsAlerter{
		webhookURL: webhookURL,
		username:   "VigiAuto",
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "ops").Logger(),
		now:        time.Now,
	}
}

// Startup announces the daemon start with the enabled search names.
func (o *OpsAlerter) Startup(ctx context.Context, searches []string) {
	o.sendEmbed(ctx, Embed{
		Title:       "🚗 VigiAuto démarré",
		Description: "Recherches actives: " + strings.Join(searches, ", "),
		Color:       0x00FF00,
	})
}

// Shutdown announces a graceful stop.
func (o *OpsAlerter) Shutdown(ctx context.Context, reason string) {
	o.sendEmbed(ctx, Embed{
		Title:       "🛑 VigiAuto arrêté",
		Description: "Raison: " + reason,
		Color:       0xFF0000,
	})
}

// ZeroYield warns that several consecutive runs saw no listings at all,
// which usually means a block or a parser break, not a quiet market.
func (o *OpsAlerter) ZeroYield(ctx context.Context, streak int, sources []string) {
	o.sendEmbed(ctx, Embed{
		Title: "⚠️ Alerte: 0 annonces",
		Description: fmt.Sprintf(
			"0 annonces pendant %d runs consécutifs.\nSources: %s\nPossible blocage ou problème de parsing.",
			streak, strings.Join(sources, ", ")),
		Color: 0xFFA500,
	})
}

// CrashStreak reports repeated run failures.
func (o *OpsAlerter) CrashStreak(ctx context.Context, count int, err error) {
	o.Alert(ctx, fmt.Sprintf("Run failed %dx: %v", count, err))
}

// Alert sends a plain-content notice.
func (o *OpsAlerter) Alert(ctx context.Context, message string) {
	if o.webhookURL == "" {
		o.logger.Warn().Str("message", message).Msg("ops alert (no webhook)")
		return
	}
	o.post(ctx, WebhookPayload{
		Username: o.username,
		Content:  "🚨 **ALERTE VIGIAUTO**\n" + message,
	})
}

func (o *OpsAlerter) sendEmbed(ctx context.Context, e Embed) {
	if o.webhookURL == "" {
		o.logger.Info().Str("title", e.Title).Str("detail", e.Description).Msg("ops notice (no webhook)")
		return
	}
	e.Timestamp = o.now().UTC().Format(time.RFC3339)
	o.post(ctx, WebhookPayload{
		Username: o.username,
		Embeds:   []Embed{e},
	})
}

func (o *OpsAlerter) post(ctx context.Context, payload WebhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to encode ops payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.webhookURL, bytes.NewReader(body))
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to build ops request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		o.logger.Warn().Err(err).Msg("ops alert failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.logger.Warn().Int("status", resp.StatusCode).Msg("ops alert rejected")
	}
}
