package domain

import "fmt"

// ScoreBreakdown keeps per-component points and a short human-readable
// explanation for each, so every total can be audited after the fact.
type ScoreBreakdown struct {
	PrixScore       int    `json:"prix_score" db:"-"`
	PrixDetail      string `json:"prix_detail" db:"-"`
	KmScore         int    `json:"km_score" db:"-"`
	KmDetail        string `json:"km_detail" db:"-"`
	FreshnessScore  int    `json:"freshness_score" db:"-"`
	FreshnessDetail string `json:"freshness_detail" db:"-"`
	KeywordsScore   int    `json:"keywords_score" db:"-"`
	KeywordsDetail  string `json:"keywords_detail" db:"-"`
	BonusScore      int    `json:"bonus_score" db:"-"`
	BonusDetail     string `json:"bonus_detail" db:"-"`
	RiskPenalty     int    `json:"risk_penalty" db:"-"`
	RiskDetail      string `json:"risk_detail" db:"-"`

	Total              int `json:"total"`
	MarginMin          int `json:"margin_min"`
	MarginMax          int `json:"margin_max"`
	RepairCostEstimate int `json:"repair_cost_estimate"`
}

// Compact renders the one-line summary used in notification embeds,
// e.g. "P:32 K:20 F:9 M:12 B:6 R:-15".
func (b ScoreBreakdown) Compact() string {
	return fmt.Sprintf("P:%d K:%d F:%d M:%d B:%d R:%d",
		b.PrixScore, b.KmScore, b.FreshnessScore, b.KeywordsScore, b.BonusScore, b.RiskPenalty)
}
