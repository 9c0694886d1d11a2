package notify

import "github.com/vigiauto/vigiauto/internal/domain"

// Reason explains a notification decision. The negatives are recorded in
// logs and stats, the positives also shape the embed.
type Reason string

const (
	ReasonNew             Reason = "new"
	ReasonScoreTooLow     Reason = "score_too_low"
	ReasonPriceDropped    Reason = "price_dropped"
	ReasonScoreIncreased  Reason = "score_increased"
	ReasonAlreadyNotified Reason = "already_notified"
	ReasonScoreThreshold  Reason = "score_threshold"
)

const (
	// priceDropRatio re-pings an already-notified listing when its price
	// falls below this fraction of the notified one.
	priceDropRatio = 0.95

	// scoreJump re-pings when the score gained at least this many points.
	scoreJump = 10
)

// Decision is the outcome of Decide plus the context an update embed
// needs (previous price and score).
type Decision struct {
	Notify bool
	Reason Reason

	// Update marks a re-notification of an already-pinged listing.
	Update    bool
	PrevPrix  *int
	PrevScore int
}

// Kind labels the decision for metrics: "update" or "new".
func (d Decision) Kind() string {
	if d.Update {
		return "update"
	}
	return "new"
}

// Decide applies the notification policy. existing is the stored row for
// the same listing, nil when this is the first sighting; minScore is the
// notify threshold for first-time pings.
//
// First sightings and known-but-never-notified rows ping when the score
// clears the threshold. Already-notified rows only re-ping on a price drop
// beyond 5% or a score gain of 10+ points.
func Decide(a *domain.Annonce, existing *domain.Annonce, minScore int) Decision {
	if existing == nil {
		if a.ScoreTotal >= minScore {
			return Decision{Notify: true, Reason: ReasonNew}
		}
		return Decision{Reason: ReasonScoreTooLow}
	}

	if existing.Notified {
		if a.Prix != nil && existing.Prix != nil &&
			float64(*a.Prix) < float64(*existing.Prix)*priceDropRatio {
			return Decision{
				Notify:    true,
				Reason:    ReasonPriceDropped,
				Update:    true,
				PrevPrix:  existing.Prix,
				PrevScore: existing.ScoreTotal,
			}
		}
		if a.ScoreTotal >= existing.ScoreTotal+scoreJump {
			return Decision{
				Notify:    true,
				Reason:    ReasonScoreIncreased,
				Update:    true,
				PrevPrix:  existing.Prix,
				PrevScore: existing.ScoreTotal,
			}
		}
		return Decision{Reason: ReasonAlreadyNotified}
	}

	if a.ScoreTotal >= minScore {
		return Decision{Notify: true, Reason: ReasonScoreThreshold}
	}
	return Decision{Reason: ReasonScoreTooLow}
}
