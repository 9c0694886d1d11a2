package pipeline

import (
	"sort"
	"strings"
	"time"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/keywords"
)

// Title token groups for the light pass. Matching is substring over the
// normalized title, same as the keyword matcher's normalization.
var (
	lightUrgencyTokens = []string{"urgent", "vite", "depart", "demenagement"}
	lightNegoTokens    = []string{"negociable", "a debattre", "nego"}
	lightCTTokens      = []string{"ct ok", "ct vierge", "controle technique ok"}
	lightRiskTokens    = []string{"hs", "panne", "accident", "epave", "pour pieces"}
)

// scoreLightBatch fills ScoreLight and Priority from index data alone.
// The light score decides which listings are worth a detail fetch; the
// priority additionally front-loads fresh and urgent listings in the
// detail queue.
func (o *Orchestrator) scoreLightBatch(results []domain.IndexResult) {
	now := o.now()

	for i := range results {
		r := &results[i]
		score := 0
		priority := 0

		if r.Prix != nil {
			switch {
			case *r.Prix < 2000:
				score += 25
				priority += 20
			case *r.Prix < 3000:
				score += 20
				priority += 10
			case *r.Prix < 4000:
				score += 10
			}
		}

		if r.Kilometrage != nil {
			km := *r.Kilometrage
			switch {
			case km >= 80000 && km <= 150000:
				score += 20
			case km < 80000:
				score += 15
			case km <= 200000:
				score += 10
			}
		}

		if r.PublishedAt != nil {
			age := now.Sub(*r.PublishedAt)
			switch {
			case age < time.Hour:
				score += 15
				priority += 30
			case age < 6*time.Hour:
				score += 10
				priority += 20
			case age < 24*time.Hour:
				score += 5
				priority += 10
			}
		}

		titre := keywords.Normalize(r.Titre)
		if containsAny(titre, lightUrgencyTokens) {
			score += 10
			priority += 15
		}
		if containsAny(titre, lightNegoTokens) {
			score += 5
		}
		if containsAny(titre, lightCTTokens) {
			score += 8
		}
		if containsAny(titre, lightRiskTokens) {
			score -= 20
		}

		r.ScoreLight = max(0, score)
		r.Priority = priority + score
	}
}

// sortByPriority orders the detail queue, highest priority first. Stable
// so equal-priority listings keep their scan order.
func sortByPriority(results []domain.IndexResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Priority > results[j].Priority
	})
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
