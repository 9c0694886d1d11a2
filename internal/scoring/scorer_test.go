package scoring

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigiauto/vigiauto/internal/config"
	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/keywords"
)

var scoreNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func intPtr(n int) *int              { return &n }
func timePtr(t time.Time) *time.Time { return &t }

func testVehiclesConfig() *config.VehiclesConfig {
	return &config.VehiclesConfig{
		ScoringWeights: config.DefaultScoringWeights(),
		Departements: config.DepartmentTiers{
			Tier1: []string{"69", "01"},
			Tier2: []string{"42"},
			Tier3: []string{"73"},
		},
		Vehicles: []config.TargetVehicle{
			{
				ID:             "peugeot_207_hdi",
				Marque:         "Peugeot",
				ModelePatterns: []string{`\b207\b`},
				Carburant:      "diesel",
				Exclusions:     []string{"207 cc", "boite auto"},
				Priorite:       1,
				Criteres: config.VehicleCriteria{
					PrixMin:    1500,
					PrixMax:    4500,
					KmMin:      60000,
					KmMax:      200000,
					KmIdealMin: 80000,
					KmIdealMax: 150000,
				},
				Estimation: config.ResaleEstimate{
					PrixReventeMin:   3800,
					PrixReventeMax:   4800,
					PrixMarcheMedian: 3400,
				},
				Bonus: map[string]int{"clim": 200},
			},
			{
				ID:                   "renault_clio3_dci",
				Marque:               "Renault",
				ModelePatterns:       []string{`\bclio\s*(3|iii)?\b`},
				Carburant:            "diesel",
				MotorisationsExclues: []string{"rs"},
				Priorite:             2,
				Criteres: config.VehicleCriteria{
					PrixMin: 2000,
					PrixMax: 5500,
					KmMin:   60000,
					KmMax:   190000,
				},
			},
		},
	}
}

func testScorer(t *testing.T, defs []keywords.Definition, exclusions []string) *Scorer {
	t.Helper()
	matcher := keywords.NewMatcher(defs, exclusions)
	s := New(testVehiclesConfig(), matcher, zerolog.Nop())
	s.now = func() time.Time { return scoreNow }
	return s
}

// test207 builds a listing that lands every component cleanly: in-band
// price with market discount, ideal mileage, fresh, tier-1 department,
// private seller with photos, CT OK in the description.
func test207() *domain.Annonce {
	a := domain.NewAnnonce(domain.SourceLeboncoin, "https://www.leboncoin.fr/ad/voitures/100001")
	a.Marque = "Peugeot"
	a.Modele = "207"
	a.Titre = "Peugeot 207 1.6 HDi 92ch"
	a.Version = "1.6 HDi"
	a.Carburant = domain.FuelDiesel
	a.Prix = intPtr(2800)
	a.Kilometrage = intPtr(120000)
	a.Departement = "69"
	a.SellerType = domain.SellerParticulier
	a.ImagesURLs = []string{"a", "b", "c", "d", "e", "f"}
	a.Description = "CT OK, entretien suivi"
	a.PublishedAt = timePtr(scoreNow.Add(-30 * time.Minute))
	return a
}

func TestScore_FullBreakdown(t *testing.T) {
	s := testScorer(t, nil, nil)
	a := test207()

	b := s.Score(a)

	assert.Equal(t, "peugeot_207_hdi", a.VehiculeCibleID)

	// 2800€ in [1500,4500] sits at position 17/30 of the band (19 pts) and
	// is more than 15% under the 3400€ median, which adds the 5-pt bump.
	assert.Equal(t, 24, b.PrixScore)
	assert.Equal(t, "2800€ (-17% vs marché 3400€)", b.PrixDetail)

	assert.Equal(t, 25, b.KmScore)
	assert.Equal(t, "120 000 km (idéal)", b.KmDetail)

	assert.Equal(t, 10, b.FreshnessScore)
	assert.Equal(t, "< 1h", b.FreshnessDetail)

	assert.Equal(t, 8, b.KeywordsScore)
	assert.Equal(t, "ct_ok", b.KeywordsDetail)

	// dept 69 tier1 (+5), particulier (+3), 6 photos (+1)
	assert.Equal(t, 9, b.BonusScore)
	assert.Equal(t, "69 (proche), Particulier, 6 photos", b.BonusDetail)

	assert.Equal(t, 0, b.RiskPenalty)
	assert.Equal(t, "Aucun risque détecté", b.RiskDetail)

	// 3800-2800-0-200 / 4800-2800-0-200, margin bonus tier 500+ (+2)
	assert.Equal(t, 800, b.MarginMin)
	assert.Equal(t, 1800, b.MarginMax)

	assert.Equal(t, 78, b.Total)
	assert.Equal(t, 78, a.ScoreTotal)
	assert.Equal(t, domain.AlertInteressant, a.AlertLevel)
	assert.Equal(t, []string{"ct_ok"}, a.KeywordsOpportunite)
	assert.Empty(t, a.KeywordsRisque)
}

func TestScore_NoTargetVehicle(t *testing.T) {
	s := testScorer(t, nil, nil)
	a := test207()
	a.Marque = "Fiat"
	a.Modele = "Panda"
	a.Titre = "Fiat Panda 1.2"
	a.Version = ""

	b := s.Score(a)

	assert.Equal(t, 0, b.Total)
	assert.Equal(t, "Véhicule non ciblé", b.PrixDetail)
	assert.Empty(t, a.VehiculeCibleID)
	assert.Equal(t, 0, a.ScoreTotal)
	assert.Equal(t, domain.AlertArchive, a.AlertLevel)
}

func TestScore_ExcludedText(t *testing.T) {
	s := testScorer(t, nil, []string{"épave"})
	a := test207()
	a.Description = "roule mais vendue comme épave"

	b := s.Score(a)

	assert.Equal(t, 0, b.Total)
	assert.Equal(t, "EXCLU: Exclusion: epave", b.RiskDetail)
	assert.Equal(t, domain.StatusExclue, a.Status)
	assert.Equal(t, "Exclusion: epave", a.IgnoreReason)
}

func TestScore_CriticalRiskCapsBelowInteressant(t *testing.T) {
	defs := []keywords.Definition{{
		ID:           "fumee_noire",
		Category:     keywords.CategoryRisque,
		Patterns:     []string{"fumee noire"},
		Penalty:      -5,
		CostEstimate: 300,
		Severity:     domain.SeverityCritical,
	}}
	s := testScorer(t, defs, nil)
	a := test207()
	a.Description = "CT OK, fumée noire à l'accélération"

	b := s.Score(a)

	// Pre-cap total is 73; the critical severity with a 500€ worst-case
	// margin pins it just under the notify threshold.
	assert.Equal(t, 59, b.Total)
	assert.Equal(t, domain.AlertSurveiller, a.AlertLevel)
	assert.Contains(t, a.KeywordsRisque, "fumee_noire")
	assert.Equal(t, "CRITIQUE: fumee_noire (~300€)", b.RiskDetail)
	assert.Equal(t, 500, b.MarginMin)
	assert.Equal(t, 300, a.RepairCostEstimate)
}

func TestScore_CriticalRiskWithFatMarginNotCapped(t *testing.T) {
	defs := []keywords.Definition{{
		ID:           "fumee_noire",
		Category:     keywords.CategoryRisque,
		Patterns:     []string{"fumee noire"},
		Penalty:      -5,
		CostEstimate: 300,
		Severity:     domain.SeverityCritical,
	}}
	matcher := keywords.NewMatcher(defs, nil)

	cfg := testVehiclesConfig()
	cfg.Vehicles[0].Estimation.PrixReventeMin = 5000
	cfg.Vehicles[0].Estimation.PrixReventeMax = 6000

	s := New(cfg, matcher, zerolog.Nop())
	s.now = func() time.Time { return scoreNow }

	a := test207()
	a.Description = "CT OK, fumée noire à l'accélération"

	b := s.Score(a)

	assert.Equal(t, 1700, b.MarginMin)
	assert.Equal(t, 76, b.Total)
	assert.Equal(t, domain.AlertInteressant, a.AlertLevel)
}

func TestScore_PriceAboveMax(t *testing.T) {
	s := testScorer(t, nil, nil)
	a := test207()
	a.Prix = intPtr(5000)

	b := s.Score(a)

	assert.Equal(t, 0, b.PrixScore)
	assert.Equal(t, "Prix trop élevé (5000€ > 4500€ max)", b.PrixDetail)
}

func TestScore_LowPriceNeedsVerification(t *testing.T) {
	s := testScorer(t, nil, nil)
	a := test207()
	a.Prix = intPtr(1200)
	a.ImagesURLs = nil
	a.Description = ""

	b := s.Score(a)

	assert.Equal(t, 31, b.PrixScore)
	assert.Equal(t, "1200€ (-64% marché) - À VÉRIFIER (prix anormal)", b.PrixDetail)
	assert.Contains(t, a.KeywordsRisque, "prix_a_verifier")

	// Back in the normal band the flag clears on the next pass: risk ids are
	// rebuilt from the matcher every time.
	a.Prix = intPtr(2800)
	s.Score(a)
	assert.NotContains(t, a.KeywordsRisque, "prix_a_verifier")
}

func TestScore_LowPriceBenignKeepsFullPoints(t *testing.T) {
	s := testScorer(t, nil, nil)
	a := test207()
	a.Prix = intPtr(1200)
	a.Description = ""

	b := s.Score(a)

	assert.Equal(t, 35, b.PrixScore)
	assert.Equal(t, "1200€ (-64% marché) - Très bonne affaire!", b.PrixDetail)
	assert.NotContains(t, a.KeywordsRisque, "prix_a_verifier")
}

func TestScore_PriceMissing(t *testing.T) {
	s := testScorer(t, nil, nil)
	a := test207()
	a.Prix = nil

	b := s.Score(a)

	assert.Equal(t, 0, b.PrixScore)
	assert.Equal(t, "Prix non renseigné", b.PrixDetail)
	assert.Equal(t, 0, b.MarginMin)
	assert.Equal(t, 0, b.MarginMax)
}

func TestScore_KmBands(t *testing.T) {
	s := testScorer(t, nil, nil)

	tests := []struct {
		name   string
		km     *int
		score  int
		detail string
	}{
		{"missing", nil, 7, "Km non renseigné"},
		{"below band", intPtr(50000), 12, "50 000 km < 60 000 km - bas (vérifier)"},
		{"above band", intPtr(210000), 0, "210 000 km > 200 000 km max"},
		{"ideal", intPtr(120000), 25, "120 000 km (idéal)"},
		{"under ideal", intPtr(70000), 21, "70 000 km"},
		{"over ideal", intPtr(180000), 7, "180 000 km (élevé)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := test207()
			a.Kilometrage = tt.km
			b := s.Score(a)
			assert.Equal(t, tt.score, b.KmScore)
			assert.Equal(t, tt.detail, b.KmDetail)
		})
	}
}

func TestScore_FreshnessBuckets(t *testing.T) {
	s := testScorer(t, nil, nil)

	tests := []struct {
		name   string
		age    time.Duration
		score  int
		detail string
	}{
		{"under 1h", 30 * time.Minute, 10, "< 1h"},
		{"2h", 2 * time.Hour, 9, "2h"},
		{"5h", 5 * time.Hour, 8, "5h"},
		{"8h", 8 * time.Hour, 7, "8h"},
		{"18h", 18 * time.Hour, 5, "18h"},
		{"30h", 30 * time.Hour, 3, "1-2j"},
		{"90h", 90 * time.Hour, 1, "3j"},
		{"over a week", 200 * time.Hour, 0, "> 1 sem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := test207()
			a.PublishedAt = timePtr(scoreNow.Add(-tt.age))
			b := s.Score(a)
			assert.Equal(t, tt.score, b.FreshnessScore)
			assert.Equal(t, tt.detail, b.FreshnessDetail)
		})
	}

	t.Run("unknown date", func(t *testing.T) {
		a := test207()
		a.PublishedAt = nil
		b := s.Score(a)
		assert.Equal(t, 5, b.FreshnessScore)
		assert.Equal(t, "Date inconnue", b.FreshnessDetail)
	})
}

func TestScore_BonusComponent(t *testing.T) {
	s := testScorer(t, nil, nil)

	t.Run("cap at weight", func(t *testing.T) {
		a := test207()
		a.Titre = "Peugeot 207 1.6 HDi clim"
		// 5 (dept) + 3 (particulier) + 1 (photos) + 2 (clim) = 11, capped
		b := s.Score(a)
		assert.Equal(t, 10, b.BonusScore)
		assert.Contains(t, b.BonusDetail, "clim")
	})

	t.Run("pro seller penalised", func(t *testing.T) {
		a := test207()
		a.SellerType = domain.SellerProfessionnel
		a.Departement = ""
		a.ImagesURLs = nil
		b := s.Score(a)
		assert.Equal(t, 0, b.BonusScore)
		assert.Equal(t, "Pro", b.BonusDetail)
	})

	t.Run("tier2 and tier3 departments", func(t *testing.T) {
		a := test207()
		a.SellerType = domain.SellerUnknown
		a.ImagesURLs = nil
		a.Departement = "42"
		b := s.Score(a)
		assert.Equal(t, 3, b.BonusScore)
		assert.Equal(t, "42", b.BonusDetail)

		a.Departement = "73"
		b = s.Score(a)
		assert.Equal(t, 1, b.BonusScore)
	})

	t.Run("nothing fires", func(t *testing.T) {
		a := test207()
		a.SellerType = domain.SellerUnknown
		a.ImagesURLs = nil
		a.Departement = "99"
		b := s.Score(a)
		assert.Equal(t, 0, b.BonusScore)
		assert.Equal(t, "Aucun", b.BonusDetail)
	})
}

func TestIdentifyVehicle(t *testing.T) {
	s := testScorer(t, nil, nil)

	t.Run("requires marque and modele", func(t *testing.T) {
		a := test207()
		a.Modele = ""
		_, v := s.identifyVehicle(a)
		assert.Nil(t, v)
	})

	t.Run("vehicle exclusion rejects", func(t *testing.T) {
		a := test207()
		a.Titre = "Peugeot 207 CC cabriolet"
		_, v := s.identifyVehicle(a)
		assert.Nil(t, v)
	})

	t.Run("wrong fuel without engine hint rejects", func(t *testing.T) {
		a := test207()
		a.Carburant = domain.FuelEssence
		a.Titre = "Peugeot 207 Trendy"
		a.Version = ""
		_, v := s.identifyVehicle(a)
		assert.Nil(t, v)
	})

	t.Run("engine label overrides declared fuel", func(t *testing.T) {
		a := test207()
		a.Carburant = domain.FuelEssence
		a.Titre = "Peugeot 207 1.6 HDi 92"
		id, v := s.identifyVehicle(a)
		require.NotNil(t, v)
		assert.Equal(t, "peugeot_207_hdi", id)
	})

	t.Run("unknown fuel passes", func(t *testing.T) {
		a := test207()
		a.Carburant = domain.FuelUnknown
		a.Titre = "Peugeot 207 Trendy"
		a.Version = ""
		_, v := s.identifyVehicle(a)
		assert.NotNil(t, v)
	})

	t.Run("motorisations exclues reject", func(t *testing.T) {
		a := test207()
		a.Marque = "Renault"
		a.Modele = "Clio 3"
		a.Titre = "Renault Clio 3 RS"
		a.Version = "2.0 RS"
		a.Carburant = domain.FuelUnknown
		_, v := s.identifyVehicle(a)
		assert.Nil(t, v)
	})

	t.Run("marque matches by substring both ways", func(t *testing.T) {
		a := test207()
		a.Marque = "PEUGEOT "
		id, v := s.identifyVehicle(a)
		require.NotNil(t, v)
		assert.Equal(t, "peugeot_207_hdi", id)
	})
}

func TestIdentifyVehicle_InvalidPatternDegrades(t *testing.T) {
	cfg := testVehiclesConfig()
	// Lookahead is not supported by RE2. The bad pattern is demoted to a
	// substring fallback and the valid sibling still matches.
	cfg.Vehicles[0].ModelePatterns = []string{`^207(?!\s*cc)`, `\b207\b`}

	s := New(cfg, keywords.NewMatcher(nil, nil), zerolog.Nop())
	s.now = func() time.Time { return scoreNow }

	a := test207()
	id, v := s.identifyVehicle(a)
	require.NotNil(t, v)
	assert.Equal(t, "peugeot_207_hdi", id)
}

func TestScore_MarginTiers(t *testing.T) {
	tests := []struct {
		marginMin int
		bonus     int
	}{
		{1500, 5},
		{1000, 3},
		{500, 2},
		{499, 0},
		{0, 0},
	}
	s := testScorer(t, nil, nil)
	for _, tt := range tests {
		assert.Equal(t, tt.bonus, s.marginBonus(tt.marginMin), "marginMin=%d", tt.marginMin)
	}
}

func TestScore_RepairCostReducesMargin(t *testing.T) {
	s := testScorer(t, nil, nil)
	a := test207()
	a.Description = "CT refusé, contre visite à prévoir"

	b := s.Score(a)

	// ct_refuse: 400€ estimated repair. 3800-2800-400-200 = 400.
	assert.Equal(t, 400, b.MarginMin)
	assert.Equal(t, 400, a.RepairCostEstimate)
	assert.Contains(t, a.KeywordsRisque, "ct_refuse")
}
