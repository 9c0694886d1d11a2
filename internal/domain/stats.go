package domain

import "time"

// PipelineStats accounts one pipeline run end to end. The index phase
// counters cover every source scanned in the run; the detail counters only
// the listings promoted past the light-score threshold.
type PipelineStats struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	IndexScanned    int `json:"index_scanned"`
	IndexNew        int `json:"index_new"`
	IndexDuplicates int `json:"index_duplicates"`
	IndexErrors     int `json:"index_errors"`

	DetailFetched int `json:"detail_fetched"`
	DetailErrors  int `json:"detail_errors"`

	AboveThreshold int `json:"above_threshold"`
	UrgentCount    int `json:"urgent_count"`
	InteressantCnt int `json:"interessant_count"`

	Notified     int `json:"notified"`
	NotifyErrors int `json:"notify_errors"`
}

// Add folds another run's counters into s. Duration accumulates; StartedAt
// keeps the earlier of the two.
func (s *PipelineStats) Add(o PipelineStats) {
	if s.StartedAt.IsZero() || (!o.StartedAt.IsZero() && o.StartedAt.Before(s.StartedAt)) {
		s.StartedAt = o.StartedAt
	}
	s.Duration += o.Duration
	s.IndexScanned += o.IndexScanned
	s.IndexNew += o.IndexNew
	s.IndexDuplicates += o.IndexDuplicates
	s.IndexErrors += o.IndexErrors
	s.DetailFetched += o.DetailFetched
	s.DetailErrors += o.DetailErrors
	s.AboveThreshold += o.AboveThreshold
	s.UrgentCount += o.UrgentCount
	s.InteressantCnt += o.InteressantCnt
	s.Notified += o.Notified
	s.NotifyErrors += o.NotifyErrors
}

// Yielded reports whether the run saw any listing at all. The runner uses
// this to drive its zero-yield backoff.
func (s PipelineStats) Yielded() bool { return s.IndexScanned > 0 }
