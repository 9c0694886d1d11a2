package metrics

import (
	dto "github.com/prometheus/client_model/go"
)

// Totals is the counter snapshot the stats endpoint folds into its
// payload. Values are summed across label combinations.
type Totals struct {
	Runs              float64 `json:"runs"`
	ListingsScanned   float64 `json:"listings_scanned"`
	ListingsNew       float64 `json:"listings_new"`
	DedupHits         float64 `json:"dedup_hits"`
	DetailFetched     float64 `json:"detail_fetched"`
	NotificationsSent float64 `json:"notifications_sent"`
	NotifyErrors      float64 `json:"notify_errors"`
}

// Snapshot gathers the current counter totals. Gather errors yield a zero
// snapshot; the endpoint serving this is best-effort.
func (r *Registry) Snapshot() Totals {
	return Totals{
		Runs:              r.FamilyTotal("vigiauto_runs_total"),
		ListingsScanned:   r.FamilyTotal("vigiauto_listings_scanned_total"),
		ListingsNew:       r.FamilyTotal("vigiauto_listings_new_total"),
		DedupHits:         r.FamilyTotal("vigiauto_dedup_hits_total"),
		DetailFetched:     r.FamilyTotal("vigiauto_detail_fetched_total"),
		NotificationsSent: r.FamilyTotal("vigiauto_notifications_sent_total"),
		NotifyErrors:      r.FamilyTotal("vigiauto_notify_errors_total"),
	}
}

// FamilyTotal sums one metric family across all its label combinations.
// Counters and gauges report their value; other kinds report 0.
func (r *Registry) FamilyTotal(name string) float64 {
	families, err := r.Gatherer().Gather()
	if err != nil {
		return 0
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		return sumFamily(fam)
	}
	return 0
}

func sumFamily(fam *dto.MetricFamily) float64 {
	var total float64
	for _, m := range fam.GetMetric() {
		switch {
		case m.GetCounter() != nil:
			total += m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			total += m.GetGauge().GetValue()
		}
	}
	return total
}
