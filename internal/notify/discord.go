package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// ErrNoWebhook is returned when the sink was built without a webhook URL.
var ErrNoWebhook = errors.New("discord webhook URL not configured")

// Discord embed caps, in runes.
const (
	maxTitleRunes   = 256
	maxDescRunes    = 4096
	maxFields       = 25
	maxVersionRunes = 25
)

// embedColors maps alert levels to the sidebar colour.
var embedColors = map[domain.AlertLevel]int{
	domain.AlertUrgent:      0xFF0000,
	domain.AlertInteressant: 0xFF8C00,
	domain.AlertSurveiller:  0xFFD700,
	domain.AlertArchive:     0x808080,
}

// WebhookPayload is the Discord webhook request body.
type WebhookPayload struct {
	Username string  `json:"username,omitempty"`
	Content  string  `json:"content,omitempty"`
	Embeds   []Embed `json:"embeds,omitempty"`
}

// Embed is one Discord rich embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField is a name/value pair inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedMedia points at an image.
type EmbedMedia struct {
	URL string `json:"url"`
}

// EmbedFooter is the embed footer line.
type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordConfig holds the sink settings.
type DiscordConfig struct {
	WebhookURL string
	// Username overrides the webhook's display name. Default "VigiAuto".
	Username string
	// Timeout bounds one webhook POST. Default 30s.
	Timeout time.Duration
	// MinInterval spaces consecutive sends. Default 2s.
	MinInterval time.Duration
}

func (c DiscordConfig) withDefaults() DiscordConfig {
	if c.Username == "" {
		c.Username = "VigiAuto"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 2 * time.Second
	}
	return c
}

// Discord delivers listing notifications to a webhook. Sends are paced at
// MinInterval and run through a breaker so a dead webhook stops costing
// the pipeline retries after five consecutive failures.
type Discord struct {
	cfg     DiscordConfig
	http    *http.Client
	pace    *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDiscord builds the sink. The webhook URL may be empty; Send then
// fails with ErrNoWebhook, which lets the caller decide whether that is a
// configuration error or an intentionally silent run.
func NewDiscord(cfg DiscordConfig, logger zerolog.Logger) *Discord {
	cfg = cfg.withDefaults()
	lg := logger.With().Str("component", "notify").Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "discord-webhook",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("webhook breaker state change")
		},
	})

	return &Discord{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		pace:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		breaker: breaker,
		logger:  lg,
		now:     time.Now,
	}
}

// Send renders the listing into an embed and posts it. Update decisions
// additionally carry a plain-content line so the change is readable from
// the channel list without opening the embed.
func (d *Discord) Send(ctx context.Context, a *domain.Annonce, dec Decision) error {
	if d.cfg.WebhookURL == "" {
		return ErrNoWebhook
	}
	if err := d.pace.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for send slot: %w", err)
	}

	payload := d.buildPayload(a, dec)
	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.post(ctx, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("webhook breaker open: %w", err)
		}
		return err
	}

	d.logger.Info().
		Str("annonce", a.ID).
		Str("reason", string(dec.Reason)).
		Int("score", a.ScoreTotal).
		Msg("notification sent")
	return nil
}

func (d *Discord) buildPayload(a *domain.Annonce, dec Decision) WebhookPayload {
	var reason string
	if dec.Update {
		reason = updateReasonLine(a, dec)
	} else {
		reason = reasonLine(a)
	}

	payload := WebhookPayload{
		Username: d.cfg.Username,
		Embeds:   []Embed{buildEmbed(a, reason, dec.Update, d.now())},
	}
	if dec.Update {
		payload.Content = "🔄 **Mise à jour**: " + reason
	}
	return payload
}

func (d *Discord) post(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// percentRe extracts the market discount from the price detail line.
var percentRe = regexp.MustCompile(`-?(\d+)%`)

var titleCaser = cases.Title(language.French)

// Short display names for the keyword ids most seen in embeds; everything
// else falls back to the id with underscores spaced out.
var keywordDisplay = map[string]string{
	"ct_ok":           "CT OK",
	"urgent":          "Urgent",
	"urgent_vente":    "Vente urgente",
	"negociable":      "Négo",
	"premiere_main":   "1ère main",
	"entretien_suivi": "Entretien OK",
	"faible_km":       "Faible km",
}

var riskDisplay = map[string]string{
	"ct_refuse":       "⚠️ CT",
	"moteur_hs":       "❌ Moteur",
	"prix_a_verifier": "❓ Prix",
}

// reasonLine condenses why the listing is worth a look into one line,
// e.g. "-22% marché + CT OK + 69 + Particulier".
func reasonLine(a *domain.Annonce) string {
	var reasons []string

	detail := a.ScoreBreakdown.PrixDetail
	if m := percentRe.FindStringSubmatch(detail); m != nil {
		reasons = append(reasons, "-"+m[1]+"% marché")
	} else if lower := strings.ToLower(detail); strings.Contains(lower, "très bas") || strings.Contains(lower, "bonne affaire") {
		reasons = append(reasons, "🔥 Prix bas")
	}

	for i, kw := range a.KeywordsOpportunite {
		if i == 3 {
			break
		}
		if label, ok := keywordDisplay[kw]; ok {
			reasons = append(reasons, label)
		} else {
			reasons = append(reasons, titleCaser.String(strings.ReplaceAll(kw, "_", " ")))
		}
	}

	if a.Departement != "" {
		reasons = append(reasons, a.Departement)
	}
	if a.SellerType == domain.SellerParticulier {
		reasons = append(reasons, "Particulier")
	}

	for i, risk := range a.KeywordsRisque {
		if i == 2 {
			break
		}
		if label, ok := riskDisplay[risk]; ok {
			reasons = append(reasons, label)
		}
	}

	return strings.Join(reasons, " + ")
}

// updateReasonLine renders the deltas of an update ping,
// e.g. "📉 Prix -300€ (-9%) | 📈 Score +12pts".
func updateReasonLine(a *domain.Annonce, dec Decision) string {
	var reasons []string

	if dec.PrevPrix != nil && a.Prix != nil && *a.Prix < *dec.PrevPrix {
		diff := *dec.PrevPrix - *a.Prix
		pct := diff * 100 / *dec.PrevPrix
		reasons = append(reasons, fmt.Sprintf("📉 Prix -%d€ (-%d%%)", diff, pct))
	}
	if a.ScoreTotal > dec.PrevScore {
		reasons = append(reasons, fmt.Sprintf("📈 Score +%dpts", a.ScoreTotal-dec.PrevScore))
	}

	return strings.Join(reasons, " | ")
}

func buildEmbed(a *domain.Annonce, reason string, isUpdate bool, now time.Time) Embed {
	title := a.AlertLevel.Emoji() + " " + a.Label()
	if a.Version != "" {
		title += " " + truncateRunes(a.Version, maxVersionRunes)
	}
	if isUpdate {
		title = "🔄 " + title
	}

	var desc []string
	if reason != "" {
		desc = append(desc, "**🎯 "+reason+"**")
	}
	desc = append(desc, fmt.Sprintf("Score: **%d/100** (%s)", a.ScoreTotal, a.AlertLevel))
	desc = append(desc, "*("+a.ScoreBreakdown.Compact()+")*")

	fields := []EmbedField{
		{Name: "💰 Prix", Value: formatPrix(a.Prix), Inline: true},
		{Name: "🛣️ Kilométrage", Value: formatKm(a.Kilometrage), Inline: true},
		{Name: "📅 Année", Value: formatAnnee(a.Annee), Inline: true},
	}

	if loc := formatLocation(a.Ville, a.Departement); loc != "" {
		fields = append(fields, EmbedField{Name: "📍 Localisation", Value: loc, Inline: true})
	}
	if a.Carburant != "" && a.Carburant != domain.FuelUnknown {
		fields = append(fields, EmbedField{Name: "⛽ Carburant", Value: capitalize(string(a.Carburant)), Inline: true})
	}
	if a.SellerType != "" && a.SellerType != domain.SellerUnknown {
		fields = append(fields, EmbedField{Name: "👤 Vendeur", Value: capitalize(string(a.SellerType)), Inline: true})
	}

	if a.MarginEstimateMin > 0 || a.MarginEstimateMax > 0 {
		margin := fmt.Sprintf("%s - %s €", groupThousands(a.MarginEstimateMin), groupThousands(a.MarginEstimateMax))
		if a.RepairCostEstimate > 0 {
			margin += fmt.Sprintf("\n*(réparations: ~%s€)*", groupThousands(a.RepairCostEstimate))
		}
		fields = append(fields, EmbedField{Name: "💵 Marge potentielle", Value: margin})
	}

	if len(a.KeywordsOpportunite) > 0 {
		fields = append(fields, EmbedField{Name: "✅ Opportunités", Value: joinCapped(a.KeywordsOpportunite, 5), Inline: true})
	}
	if len(a.KeywordsRisque) > 0 {
		fields = append(fields, EmbedField{Name: "⚠️ Risques", Value: joinCapped(a.KeywordsRisque, 5), Inline: true})
	}

	if len(fields) > maxFields {
		fields = fields[:maxFields]
	}

	embed := Embed{
		Title:       truncateRunes(title, maxTitleRunes),
		Description: truncateRunes(strings.Join(desc, "\n"), maxDescRunes),
		URL:         a.URL,
		Color:       embedColors[a.AlertLevel],
		Fields:      fields,
		Footer:      &EmbedFooter{Text: fmt.Sprintf("%s • Score %d/100", a.Source, a.ScoreTotal)},
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if len(a.ImagesURLs) > 0 {
		embed.Thumbnail = &EmbedMedia{URL: a.ImagesURLs[0]}
	}
	return embed
}

func formatPrix(p *int) string {
	if p == nil {
		return "N/C"
	}
	return groupThousands(*p) + " €"
}

func formatKm(km *int) string {
	if km == nil {
		return "N/C"
	}
	return groupThousands(*km) + " km"
}

func formatAnnee(y *int) string {
	if y == nil {
		return "N/C"
	}
	return fmt.Sprintf("%d", *y)
}

func formatLocation(ville, dept string) string {
	switch {
	case ville != "" && dept != "":
		return ville + " (" + dept + ")"
	case ville != "":
		return ville
	default:
		return dept
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func joinCapped(items []string, n int) string {
	if len(items) > n {
		items = items[:n]
	}
	return strings.Join(items, ", ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// groupThousands renders 118000 as "118 000".
func groupThousands(n int) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) > 3 {
		var b strings.Builder
		lead := len(s) % 3
		if lead > 0 {
			b.WriteString(s[:lead])
		}
		for i := lead; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}
