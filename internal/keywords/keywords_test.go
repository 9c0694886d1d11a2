package keywords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigiauto/vigiauto/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CT: OK", "ct ok"},
		{"prix-à-débattre", "prix a debattre"},
		{"Contrôle   technique", "controle technique"},
		{"l'embrayage", "l embrayage"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestMatch_WordBoundaries(t *testing.T) {
	m := NewMatcher([]Definition{
		{ID: "turbo", Category: CategoryRisque, Patterns: []string{"turbo"}, Penalty: -10, Severity: domain.SeverityModerate},
	}, nil)

	// "turbo-diesel" normalizes to "turbo diesel", so the bare token does
	// fire; "turbocompresseur" must not.
	res := m.Match("moteur turbocompresseur révisé")
	assert.Empty(t, res.Risks)

	res = m.Match("le turbo est mort")
	assert.Equal(t, []string{"turbo"}, res.Risks)
}

func TestMatch_AccentAndCaseFolding(t *testing.T) {
	m := NewMatcher(nil, nil)

	res := m.Match("Prix Négociable")
	assert.Contains(t, res.Opportunities, "negociable")

	res = m.Match("negociable")
	assert.Contains(t, res.Opportunities, "negociable")
}

func TestMatch_SingleFirePerKeyword(t *testing.T) {
	m := NewMatcher(nil, nil)

	// Several patterns of the same keyword match; it still counts once.
	res := m.Match("vente urgente, urgent, doit partir")
	count := 0
	for _, id := range res.Opportunities {
		if id == "urgent_vente" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 10, res.BonusTotal)
}

func TestMatch_RiskAccumulation(t *testing.T) {
	m := NewMatcher(nil, nil)

	res := m.Match("moteur HS, vendu sans CT")
	assert.ElementsMatch(t, []string{"moteur_hs", "ct_refuse"}, res.Risks)
	assert.Equal(t, -45, res.PenaltyTotal)
	assert.Equal(t, 2400, res.CostEstimate)
	assert.Equal(t, domain.SeverityCritical, res.MaxSeverity)
}

func TestMatch_CTVariants(t *testing.T) {
	m := NewMatcher(nil, nil)

	for _, text := range []string{"CT OK", "ct: ok", "CTOK", "contrôle technique ok", "ct vierge"} {
		res := m.Match(text)
		assert.Contains(t, res.Opportunities, "ct_ok", "text %q", text)
	}
}

func TestMatch_Exclusions(t *testing.T) {
	m := NewMatcher(nil, []string{"épave", "export uniquement"})

	res := m.Match("vendue en l'état, épave roulante")
	require.True(t, res.Excluded)
	assert.Equal(t, "Exclusion: epave", res.ExclusionReason)
	assert.Empty(t, res.Opportunities)

	res = m.Match("très bon état")
	assert.False(t, res.Excluded)
}

func TestMatch_ConfigOverridesBuiltin(t *testing.T) {
	m := NewMatcher([]Definition{
		{ID: "ct_ok", Category: CategoryOpportunite, Patterns: []string{"ct ok"}, Bonus: 12},
	}, nil)

	res := m.Match("ct ok")
	assert.Equal(t, 12, res.BonusTotal)

	// The override replaced the permissive variant set.
	res = m.Match("ctok")
	assert.NotContains(t, res.Opportunities, "ct_ok")
}

func TestIsExcluded(t *testing.T) {
	m := NewMatcher(nil, []string{"accidenté"})
	excluded, reason := m.IsExcluded("véhicule accidenté avant")
	require.True(t, excluded)
	assert.Contains(t, reason, "accidente")
}
