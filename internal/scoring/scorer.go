// Package scoring turns a normalized listing into an explainable 0-100
// score against the configured target vehicles.
package scoring

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigiauto/vigiauto/internal/config"
	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/keywords"
)

// marginBuffer is the safety margin subtracted from every net-margin
// estimate, covering the incompressible costs of a flip (fuel, CT,
// consumables).
const marginBuffer = 200

// compiledVehicle is a target vehicle with its model patterns compiled
// once. Patterns that do not compile fall back to a substring check, like
// the config loader warned about.
type compiledVehicle struct {
	cfg       config.TargetVehicle
	patterns  []*regexp.Regexp
	fallbacks []string
}

// Scorer computes score breakdowns. Build once at startup; safe for
// concurrent use.
type Scorer struct {
	weights  config.ScoringWeights
	vehicles []compiledVehicle
	depts    config.DepartmentTiers
	matcher  *keywords.Matcher
	logger   zerolog.Logger

	now func() time.Time
}

// New builds a scorer from the vehicles config and a keyword matcher.
func New(cfg *config.VehiclesConfig, matcher *keywords.Matcher, logger zerolog.Logger) *Scorer {
	s := &Scorer{
		weights: cfg.ScoringWeights.WithDefaults(),
		depts:   cfg.Departements,
		matcher: matcher,
		logger:  logger.With().Str("component", "scoring").Logger(),
		now:     time.Now,
	}

	for _, v := range cfg.Vehicles {
		cv := compiledVehicle{cfg: v}
		for _, raw := range v.ModelePatterns {
			re, err := regexp.Compile("(?i)" + raw)
			if err != nil {
				cleaned := strings.NewReplacer("^", "", "$", "", `\b`, "", `\s`, " ").Replace(raw)
				cv.fallbacks = append(cv.fallbacks, strings.ToLower(cleaned))
				s.logger.Warn().Str("vehicle", v.ID).Str("pattern", raw).Err(err).
					Msg("invalid modele pattern, using substring fallback")
				continue
			}
			cv.patterns = append(cv.patterns, re)
		}
		s.vehicles = append(s.vehicles, cv)
	}
	return s
}

// priceAnalysis carries the price component result plus the verification
// flag the rest of the scoring needs.
type priceAnalysis struct {
	score             int
	detail            string
	needsVerification bool
}

// Score fills a breakdown for the listing and mutates its score fields
// (total, alert level, keyword ids, margins). Listings matching no target
// vehicle get a zero total; excluded listings additionally switch status.
func (s *Scorer) Score(a *domain.Annonce) domain.ScoreBreakdown {
	breakdown := domain.ScoreBreakdown{}

	vehicleID, vehicle := s.identifyVehicle(a)
	if vehicle == nil {
		breakdown.PrixDetail = "Véhicule non ciblé"
		a.VehiculeCibleID = ""
		a.UpdateScore(breakdown)
		return breakdown
	}
	a.VehiculeCibleID = vehicleID

	// Single keyword pass over the whole text. Risks must be known before
	// the price component runs: a rock-bottom price is only "probably
	// legitimate" when no risk keyword fired.
	text := a.Titre + " " + a.Description + " " + a.Version
	kw := s.matcher.Match(text)
	if kw.Excluded {
		breakdown.RiskDetail = "EXCLU: " + kw.ExclusionReason
		a.SetStatus(domain.StatusExclue, kw.ExclusionReason)
		a.UpdateScore(breakdown)
		return breakdown
	}

	a.KeywordsOpportunite = kw.Opportunities
	a.KeywordsRisque = kw.Risks
	a.RepairCostEstimate = kw.CostEstimate

	price := s.scorePrix(a, vehicle.cfg)
	breakdown.PrixScore = price.score
	breakdown.PrixDetail = price.detail

	breakdown.KmScore, breakdown.KmDetail = s.scoreKm(a, vehicle.cfg)
	breakdown.FreshnessScore, breakdown.FreshnessDetail = s.scoreFreshness(a)

	breakdown.KeywordsScore = min(s.weights.Keywords, kw.BonusTotal)
	breakdown.KeywordsDetail = joinOrNone(kw.Opportunities)

	breakdown.BonusScore, breakdown.BonusDetail = s.scoreBonus(a, vehicle.cfg)

	breakdown.RiskPenalty = kw.PenaltyTotal
	if len(kw.Risks) > 0 {
		breakdown.RiskDetail = fmt.Sprintf("%s (~%d€)", strings.Join(kw.Risks, ", "), kw.CostEstimate)
		if kw.MaxSeverity == domain.SeverityCritical {
			breakdown.RiskDetail = "CRITIQUE: " + breakdown.RiskDetail
		}
	} else {
		breakdown.RiskDetail = "Aucun risque détecté"
	}

	breakdown.MarginMin, breakdown.MarginMax, breakdown.RepairCostEstimate = s.estimateMargin(a, vehicle.cfg)
	marginBonus := s.marginBonus(breakdown.MarginMin)

	raw := breakdown.PrixScore +
		breakdown.KmScore +
		breakdown.FreshnessScore +
		breakdown.KeywordsScore +
		breakdown.BonusScore +
		breakdown.RiskPenalty +
		marginBonus

	breakdown.Total = clampScore(raw)

	// A critical risk with only a modest margin is not worth a ping; keep
	// it below the INTERESSANT threshold.
	if kw.MaxSeverity == domain.SeverityCritical && breakdown.Total >= 60 && breakdown.MarginMin < 1000 {
		breakdown.Total = 59
	}

	if price.needsVerification {
		a.KeywordsRisque = appendIfMissing(a.KeywordsRisque, "prix_a_verifier")
	}

	a.UpdateScore(breakdown)
	return breakdown
}

// identifyVehicle returns the first configured vehicle matching the
// listing, in priority order.
func (s *Scorer) identifyVehicle(a *domain.Annonce) (string, *compiledVehicle) {
	if a.Marque == "" || a.Modele == "" {
		return "", nil
	}

	marque := strings.ToLower(strings.TrimSpace(a.Marque))
	modele := strings.ToLower(strings.TrimSpace(a.Modele))
	titre := strings.ToLower(a.Titre)
	version := strings.ToLower(a.Version)

	for i := range s.vehicles {
		v := &s.vehicles[i]
		cfgMarque := strings.ToLower(v.cfg.Marque)
		if !strings.Contains(marque, cfgMarque) && !strings.Contains(cfgMarque, marque) {
			continue
		}

		if !v.matchesModele(modele, titre, version) {
			continue
		}

		if !s.fuelCompatible(a, v.cfg, titre, version) {
			continue
		}

		if matchesAny(titre, version, v.cfg.Exclusions) || matchesAny(titre, version, v.cfg.MotorisationsExclues) {
			continue
		}

		return v.cfg.ID, v
	}
	return "", nil
}

func (v *compiledVehicle) matchesModele(modele, titre, version string) bool {
	for _, re := range v.patterns {
		if re.MatchString(modele) || re.MatchString(titre) || re.MatchString(version) {
			return true
		}
	}
	for _, sub := range v.fallbacks {
		if strings.Contains(modele, sub) {
			return true
		}
	}
	return false
}

// Builtin engine-label hints per fuel, used when the vehicle config does
// not list its own motorisations.
var fuelHints = map[string][]string{
	"diesel":  {"hdi", "dci", "tdi", "diesel", "d-4d"},
	"essence": {"vti", "tce", "essence", "1.2", "1.4"},
}

// fuelCompatible accepts the listing when its fuel matches the target's,
// when the engine label in the text does, or when the fuel is simply
// unknown.
func (s *Scorer) fuelCompatible(a *domain.Annonce, cfg config.TargetVehicle, titre, version string) bool {
	want := strings.ToLower(cfg.Carburant)
	if want == "" {
		return true
	}

	got := strings.ToLower(string(a.Carburant))
	if strings.Contains(got, want) {
		return true
	}

	hints := cfg.Motorisations
	if len(hints) == 0 {
		hints = fuelHints[want]
	}
	text := titre + " " + version
	for _, h := range hints {
		if strings.Contains(text, strings.ToLower(h)) {
			return true
		}
	}

	return got == string(domain.FuelUnknown)
}

func matchesAny(titre, version string, subs []string) bool {
	for _, sub := range subs {
		l := strings.ToLower(sub)
		if l == "" {
			continue
		}
		if strings.Contains(titre, l) || strings.Contains(version, l) {
			return true
		}
	}
	return false
}

// criteresWithDefaults fills the unset bands with the historical defaults
// so a sparse vehicle entry still scores sanely.
func criteresWithDefaults(c config.VehicleCriteria) config.VehicleCriteria {
	if c.PrixMin == 0 {
		c.PrixMin = 1000
	}
	if c.PrixMax == 0 {
		c.PrixMax = 5000
	}
	if c.KmMin == 0 {
		c.KmMin = 50000
	}
	if c.KmMax == 0 {
		c.KmMax = 200000
	}
	if c.KmIdealMin == 0 {
		c.KmIdealMin = c.KmMin
	}
	if c.KmIdealMax == 0 {
		c.KmIdealMax = c.KmMax - 30000
	}
	return c
}

// scorePrix scores the asking price. A price above the band is worth
// nothing; a price below it is an opportunity, not a defect, but gets the
// needs-verification flag unless the listing looks benign.
func (s *Scorer) scorePrix(a *domain.Annonce, cfg config.TargetVehicle) priceAnalysis {
	maxPts := s.weights.Prix

	if a.Prix == nil {
		return priceAnalysis{score: 0, detail: "Prix non renseigné"}
	}
	prix := *a.Prix

	crit := criteresWithDefaults(cfg.Criteres)
	marche := cfg.Estimation.PrixMarcheMedian
	if marche == 0 && a.PrixMarcheEstime != nil {
		marche = *a.PrixMarcheEstime
	}
	if marche == 0 {
		marche = (crit.PrixMin + crit.PrixMax) / 2
	}

	if prix > crit.PrixMax {
		return priceAnalysis{
			score:  0,
			detail: fmt.Sprintf("Prix trop élevé (%d€ > %d€ max)", prix, crit.PrixMax),
		}
	}

	if prix < crit.PrixMin {
		var discount float64
		if marche > 0 {
			discount = (1 - float64(prix)/float64(marche)) * 100
		}

		benign := len(a.ImagesURLs) > 0 &&
			a.SellerType == domain.SellerParticulier &&
			len(a.KeywordsRisque) == 0

		if benign {
			return priceAnalysis{
				score:  maxPts,
				detail: fmt.Sprintf("%d€ (-%d%% marché) - Très bonne affaire!", prix, int(discount)),
			}
		}
		return priceAnalysis{
			score:             int(float64(maxPts) * 0.9),
			detail:            fmt.Sprintf("%d€ (-%d%% marché) - À VÉRIFIER (prix anormal)", prix, int(discount)),
			needsVerification: true,
		}
	}

	rangeTotal := crit.PrixMax - crit.PrixMin
	if rangeTotal <= 0 {
		return priceAnalysis{score: int(float64(maxPts) * 0.5), detail: "Fourchette prix invalide"}
	}

	position := float64(crit.PrixMax-prix) / float64(rangeTotal)
	score := int(float64(maxPts) * position)

	if marche > 0 && float64(prix) < float64(marche)*0.85 {
		discount := (1 - float64(prix)/float64(marche)) * 100
		score = min(maxPts, score+int(float64(maxPts)*0.15))
		return priceAnalysis{
			score:  score,
			detail: fmt.Sprintf("%d€ (-%d%% vs marché %d€)", prix, int(discount), marche),
		}
	}

	return priceAnalysis{
		score:  score,
		detail: fmt.Sprintf("%d€ (fourchette %d-%d€)", prix, crit.PrixMin, crit.PrixMax),
	}
}

// scoreKm scores mileage against the ideal band.
func (s *Scorer) scoreKm(a *domain.Annonce, cfg config.TargetVehicle) (int, string) {
	maxPts := s.weights.Km

	if a.Kilometrage == nil {
		return int(float64(maxPts) * 0.3), "Km non renseigné"
	}
	km := *a.Kilometrage
	crit := criteresWithDefaults(cfg.Criteres)

	switch {
	case km < crit.KmMin:
		return int(float64(maxPts) * 0.5), fmt.Sprintf("%s km < %s km - bas (vérifier)", groupThousands(km), groupThousands(crit.KmMin))
	case km > crit.KmMax:
		return 0, fmt.Sprintf("%s km > %s km max", groupThousands(km), groupThousands(crit.KmMax))
	case km >= crit.KmIdealMin && km <= crit.KmIdealMax:
		return maxPts, fmt.Sprintf("%s km (idéal)", groupThousands(km))
	case km < crit.KmIdealMin:
		ratio := 1.0
		if crit.KmIdealMin > crit.KmMin {
			ratio = float64(km-crit.KmMin) / float64(crit.KmIdealMin-crit.KmMin)
		}
		return int(float64(maxPts) * (0.7 + 0.3*ratio)), fmt.Sprintf("%s km", groupThousands(km))
	default:
		ratio := 0.0
		if crit.KmMax > crit.KmIdealMax {
			ratio = float64(crit.KmMax-km) / float64(crit.KmMax-crit.KmIdealMax)
		}
		return int(float64(maxPts) * ratio * 0.7), fmt.Sprintf("%s km (élevé)", groupThousands(km))
	}
}

// scoreFreshness rewards recent listings; the best deals die in hours.
func (s *Scorer) scoreFreshness(a *domain.Annonce) (int, string) {
	maxPts := s.weights.Freshness

	if a.PublishedAt == nil {
		return int(float64(maxPts) * 0.5), "Date inconnue"
	}

	hours := s.now().UTC().Sub(a.PublishedAt.UTC()).Hours()
	switch {
	case hours < 1:
		return maxPts, "< 1h"
	case hours < 3:
		return int(float64(maxPts) * 0.95), fmt.Sprintf("%dh", int(hours))
	case hours < 6:
		return int(float64(maxPts) * 0.85), fmt.Sprintf("%dh", int(hours))
	case hours < 12:
		return int(float64(maxPts) * 0.7), fmt.Sprintf("%dh", int(hours))
	case hours < 24:
		return int(float64(maxPts) * 0.5), fmt.Sprintf("%dh", int(hours))
	case hours < 48:
		return int(float64(maxPts) * 0.3), "1-2j"
	case hours < 168:
		return int(float64(maxPts) * 0.15), fmt.Sprintf("%dj", int(hours/24))
	default:
		return 0, "> 1 sem"
	}
}

// scoreBonus aggregates the small signals: priority department, private
// seller, photo count and the per-vehicle bonus equipment.
func (s *Scorer) scoreBonus(a *domain.Annonce, cfg config.TargetVehicle) (int, string) {
	maxPts := s.weights.Bonus
	var labels []string
	total := 0

	if dept := a.Departement; dept != "" {
		switch {
		case containsString(s.depts.Tier1, dept):
			total += 5
			labels = append(labels, dept+" (proche)")
		case containsString(s.depts.Tier2, dept):
			total += 3
			labels = append(labels, dept)
		case containsString(s.depts.Tier3, dept):
			total++
			labels = append(labels, dept)
		}
	}

	switch a.SellerType {
	case domain.SellerParticulier:
		total += 3
		labels = append(labels, "Particulier")
	case domain.SellerProfessionnel:
		total--
		labels = append(labels, "Pro")
	}

	if len(a.ImagesURLs) >= 5 {
		total++
		labels = append(labels, fmt.Sprintf("%d photos", len(a.ImagesURLs)))
	}

	text := strings.ToLower(a.Titre + " " + a.Version)
	for _, name := range sortedBonusNames(cfg.Bonus) {
		if strings.Contains(text, strings.ToLower(name)) {
			total += min(2, cfg.Bonus[name]/100)
			labels = append(labels, name)
		}
	}

	if total < 0 {
		total = 0
	}
	if total > maxPts {
		total = maxPts
	}
	return total, joinOrNone(labels)
}

// marginBonus rewards listings whose worst-case net margin is already
// comfortable.
func (s *Scorer) marginBonus(marginMin int) int {
	maxPts := s.weights.Margin
	switch {
	case marginMin >= 1500:
		return maxPts
	case marginMin >= 1000:
		return int(float64(maxPts) * 0.7)
	case marginMin >= 500:
		return int(float64(maxPts) * 0.4)
	default:
		return 0
	}
}

// estimateMargin computes the net margin window: resale minus price,
// repair estimate and the safety buffer, floored at zero.
func (s *Scorer) estimateMargin(a *domain.Annonce, cfg config.TargetVehicle) (int, int, int) {
	if a.Prix == nil {
		return 0, 0, 0
	}
	prix := *a.Prix

	reventeMin := cfg.Estimation.PrixReventeMin
	if reventeMin == 0 {
		reventeMin = prix + 500
	}
	reventeMax := cfg.Estimation.PrixReventeMax
	if reventeMax == 0 {
		reventeMax = prix + 1500
	}

	repair := a.RepairCostEstimate
	marginMin := reventeMin - prix - repair - marginBuffer
	marginMax := reventeMax - prix - repair - marginBuffer
	if marginMin < 0 {
		marginMin = 0
	}
	if marginMax < 0 {
		marginMax = 0
	}
	return marginMin, marginMax, repair
}

func clampScore(raw int) int {
	if raw < 0 {
		return 0
	}
	if raw > 100 {
		return 100
	}
	return raw
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "Aucun"
	}
	return strings.Join(items, ", ")
}

func appendIfMissing(items []string, item string) []string {
	for _, it := range items {
		if it == item {
			return items
		}
	}
	return append(items, item)
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

func sortedBonusNames(bonus map[string]int) []string {
	names := make([]string, 0, len(bonus))
	for name := range bonus {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// groupThousands renders 128000 as "128 000" the way French listings do.
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if n < 0 {
		return "-" + b.String()
	}
	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
