// Package domain holds the canonical listing record and the pure value
// types shared by every stage of the pipeline.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Annonce is the canonical car-listing record. One row per strict
// fingerprint in the repository; id and created_at never change after
// first ingestion.
type Annonce struct {
	ID              string `json:"id" db:"id"`
	Source          Source `json:"source" db:"source"`
	SourceListingID string `json:"source_listing_id" db:"source_listing_id"`
	URL             string `json:"url" db:"url"`
	URLCanonique    string `json:"url_canonique" db:"url_canonique"`
	Fingerprint     string `json:"fingerprint" db:"fingerprint"`
	FingerprintSoft string `json:"fingerprint_soft" db:"fingerprint_soft"`

	Marque       string  `json:"marque" db:"marque"`
	Modele       string  `json:"modele" db:"modele"`
	Version      string  `json:"version" db:"version"`
	Motorisation string  `json:"motorisation" db:"motorisation"`
	Carburant    Fuel    `json:"carburant" db:"carburant"`
	Boite        Gearbox `json:"boite" db:"boite"`
	PuissanceCh  *int    `json:"puissance_ch" db:"puissance_ch"`
	Annee        *int    `json:"annee" db:"annee"`
	Kilometrage  *int    `json:"kilometrage" db:"kilometrage"`
	Prix         *int    `json:"prix" db:"prix"`

	Ville       string   `json:"ville" db:"ville"`
	CodePostal  string   `json:"code_postal" db:"code_postal"`
	Departement string   `json:"departement" db:"departement"`
	Latitude    *float64 `json:"latitude" db:"latitude"`
	Longitude   *float64 `json:"longitude" db:"longitude"`

	SellerType  SellerType `json:"seller_type" db:"seller_type"`
	SellerName  string     `json:"seller_name" db:"seller_name"`
	SellerPhone string     `json:"seller_phone" db:"seller_phone"`

	Titre       string   `json:"titre" db:"titre"`
	Description string   `json:"description" db:"description"`
	ImagesURLs  []string `json:"images_urls" db:"images_urls"`

	PublishedAt *time.Time `json:"published_at" db:"published_at"`
	ScrapedAt   time.Time  `json:"scraped_at" db:"scraped_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`

	ScoreTotal      int            `json:"score_total" db:"score_total"`
	ScoreBreakdown  ScoreBreakdown `json:"score_breakdown" db:"score_breakdown"`
	VehiculeCibleID string         `json:"vehicule_cible_id" db:"vehicule_cible_id"`

	KeywordsOpportunite []string `json:"keywords_opportunite" db:"keywords_opportunite"`
	KeywordsRisque      []string `json:"keywords_risque" db:"keywords_risque"`

	MarginEstimateMin  int  `json:"margin_estimate_min" db:"margin_estimate_min"`
	MarginEstimateMax  int  `json:"margin_estimate_max" db:"margin_estimate_max"`
	RepairCostEstimate int  `json:"repair_cost_estimate" db:"repair_cost_estimate"`
	PrixMarcheEstime   *int `json:"prix_marche_estime" db:"prix_marche_estime"`

	AlertLevel   AlertLevel `json:"alert_level" db:"alert_level"`
	Status       Status     `json:"status" db:"status"`
	IgnoreReason string     `json:"ignore_reason" db:"ignore_reason"`

	Notified       bool       `json:"notified" db:"notified"`
	NotifiedAt     *time.Time `json:"notified_at" db:"notified_at"`
	NotifyChannels []string   `json:"notify_channels" db:"notify_channels"`
}

// NewAnnonce builds a fresh record with identity assigned. Fingerprints
// and the canonical URL are derived immediately so dedup keys are usable
// before the record ever reaches the repository.
func NewAnnonce(source Source, rawURL string) *Annonce {
	now := time.Now().UTC()
	a := &Annonce{
		ID:         uuid.NewString(),
		Source:     source,
		URL:        rawURL,
		Carburant:  FuelUnknown,
		Boite:      GearboxUnknown,
		SellerType: SellerUnknown,
		AlertLevel: AlertArchive,
		Status:     StatusNouveau,
		ScrapedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if rawURL != "" {
		a.URLCanonique = CanonicalizeURL(rawURL)
	}
	return a
}

// RefreshFingerprints recomputes both dedup keys from the current fields.
// Call after the identifying fields (source, listing id, make, model,
// year, km, price, department, title) settle.
func (a *Annonce) RefreshFingerprints() {
	a.Fingerprint = Fingerprint(a)
	a.FingerprintSoft = SoftFingerprint(a)
}

// UpdateScore stores a freshly computed breakdown and keeps the derived
// fields (total, alert level, margins) in sync with it.
func (a *Annonce) UpdateScore(b ScoreBreakdown) {
	a.ScoreBreakdown = b
	a.ScoreTotal = b.Total
	a.AlertLevel = AlertLevelForScore(b.Total)
	a.MarginEstimateMin = b.MarginMin
	a.MarginEstimateMax = b.MarginMax
	a.RepairCostEstimate = b.RepairCostEstimate
	a.UpdatedAt = time.Now().UTC()
}

// MarkNotified records a successful outbound notification.
func (a *Annonce) MarkNotified(channels []string) {
	now := time.Now().UTC()
	a.Notified = true
	a.NotifiedAt = &now
	a.NotifyChannels = appendMissing(a.NotifyChannels, channels)
	a.UpdatedAt = now
}

// SetStatus moves the record through its operator lifecycle.
func (a *Annonce) SetStatus(s Status, reason string) {
	a.Status = s
	a.IgnoreReason = reason
	a.UpdatedAt = time.Now().UTC()
}

// AgeAt returns the listing age relative to now, and false when the
// source never exposed a publication timestamp.
func (a *Annonce) AgeAt(now time.Time) (time.Duration, bool) {
	if a.PublishedAt == nil {
		return 0, false
	}
	return now.Sub(*a.PublishedAt), true
}

// Label is the short "Marque Modele" display name used in logs and embeds.
func (a *Annonce) Label() string {
	switch {
	case a.Marque != "" && a.Modele != "":
		return a.Marque + " " + a.Modele
	case a.Marque != "":
		return a.Marque
	case a.Modele != "":
		return a.Modele
	default:
		return a.Titre
	}
}

func appendMissing(dst, add []string) []string {
	for _, c := range add {
		found := false
		for _, existing := range dst {
			if existing == c {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, c)
		}
	}
	return dst
}
