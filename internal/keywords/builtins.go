package keywords

import "github.com/vigiauto/vigiauto/internal/domain"

// builtinDefinitions returns the keyword sets every deployment needs even
// with an empty config file. Penalties are negative by convention. The
// config file overrides any of these by reusing the id.
func builtinDefinitions() []Definition {
	return []Definition{
		{
			ID:       "ct_ok",
			Category: CategoryOpportunite,
			Patterns: []string{
				`\bct\s*(ok|vierge|recent|neuf|valide|fait|passe)\b`,
				`\bcontrole\s*technique\s*(ok|vierge|recent|neuf|valide|fait|passe)\b`,
				`\bct\s*ok\b`,
				`\bctok\b`,
				`\bc\.?t\.?\s*(ok|vierge)\b`,
			},
			Bonus:       8,
			Description: "CT OK/vierge/récent",
		},
		{
			ID:       "urgent_vente",
			Category: CategoryOpportunite,
			Patterns: []string{
				`\burgent\w*\b`,
				`\bvente\s*(urgente|rapide)\b`,
				`\bdoit\s+partir\b`,
				`\ba\s+saisir\b`,
				`\bdemenagement\b`,
			},
			Bonus:       10,
			Description: "Vente urgente/rapide",
		},
		{
			ID:       "negociable",
			Category: CategoryOpportunite,
			Patterns: []string{
				`\bnego(ciable)?\b`,
				`\ba\s+debattre\b`,
				`\bprix\s+a\s+discuter\b`,
				`\bouvert\s+(aux\s+)?propositions?\b`,
			},
			Bonus:       5,
			Description: "Prix négociable",
		},
		{
			ID:       "moteur_hs",
			Category: CategoryRisque,
			Patterns: []string{
				`\bmoteur\s*(hs|mort|casse|a\s+refaire)\b`,
				`\bne\s+(demarre|roule)\s+(plus|pas)\b`,
				`\bpour\s+pieces\b`,
			},
			Penalty:      -30,
			CostEstimate: 2000,
			Severity:     domain.SeverityCritical,
			Description:  "Moteur HS/cassé",
		},
		{
			ID:       "ct_refuse",
			Category: CategoryRisque,
			Patterns: []string{
				`\bct\s*(refuse|refus|a\s*faire|expire)\b`,
				`\bcontre\s*visite\b`,
				`\bcontrevisite\b`,
				`\bsans\s+ct\b`,
			},
			Penalty:      -15,
			CostEstimate: 400,
			Severity:     domain.SeverityModerate,
			Description:  "CT refusé/à faire",
		},
	}
}
