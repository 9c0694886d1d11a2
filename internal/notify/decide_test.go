package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vigiauto/vigiauto/internal/domain"
)

func annonceWith(score int, prix *int, notified bool) *domain.Annonce {
	return &domain.Annonce{ScoreTotal: score, Prix: prix, Notified: notified}
}

func intPtr(v int) *int { return &v }

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		a        *domain.Annonce
		existing *domain.Annonce
		minScore int
		notify   bool
		reason   Reason
		update   bool
	}{
		{
			name:     "new listing above threshold",
			a:        annonceWith(65, intPtr(2900), false),
			minScore: 60,
			notify:   true,
			reason:   ReasonNew,
		},
		{
			name:     "new listing below threshold",
			a:        annonceWith(50, intPtr(2900), false),
			minScore: 60,
			reason:   ReasonScoreTooLow,
		},
		{
			name:     "notified listing with price drop beyond 5%",
			a:        annonceWith(70, intPtr(2800), false),
			existing: annonceWith(70, intPtr(3000), true),
			minScore: 60,
			notify:   true,
			reason:   ReasonPriceDropped,
			update:   true,
		},
		{
			name:     "notified listing with price drop within 5%",
			a:        annonceWith(70, intPtr(2900), false),
			existing: annonceWith(70, intPtr(3000), true),
			minScore: 60,
			reason:   ReasonAlreadyNotified,
		},
		{
			name:     "notified listing at exactly 95% is not a drop",
			a:        annonceWith(70, intPtr(2850), false),
			existing: annonceWith(70, intPtr(3000), true),
			minScore: 60,
			reason:   ReasonAlreadyNotified,
		},
		{
			name:     "notified listing with ten point score gain",
			a:        annonceWith(65, intPtr(3000), false),
			existing: annonceWith(55, intPtr(3000), true),
			minScore: 60,
			notify:   true,
			reason:   ReasonScoreIncreased,
			update:   true,
		},
		{
			name:     "notified listing with nine point score gain",
			a:        annonceWith(64, intPtr(3000), false),
			existing: annonceWith(55, intPtr(3000), true),
			minScore: 60,
			reason:   ReasonAlreadyNotified,
		},
		{
			name:     "notified listing with missing prices skips drop check",
			a:        annonceWith(70, nil, false),
			existing: annonceWith(70, intPtr(3000), true),
			minScore: 60,
			reason:   ReasonAlreadyNotified,
		},
		{
			name:     "known but never notified listing above threshold",
			a:        annonceWith(62, intPtr(2900), false),
			existing: annonceWith(40, intPtr(2900), false),
			minScore: 60,
			notify:   true,
			reason:   ReasonScoreThreshold,
		},
		{
			name:     "known but never notified listing below threshold",
			a:        annonceWith(45, intPtr(2900), false),
			existing: annonceWith(40, intPtr(2900), false),
			minScore: 60,
			reason:   ReasonScoreTooLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.a, tt.existing, tt.minScore)
			assert.Equal(t, tt.notify, d.Notify)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.update, d.Update)
			if tt.update {
				assert.Equal(t, tt.existing.Prix, d.PrevPrix)
				assert.Equal(t, tt.existing.ScoreTotal, d.PrevScore)
			}
		})
	}
}
