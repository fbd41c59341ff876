package ir

import "time"

// SyncReport summarizes one pass.
//
// Failed counts conflicts too, so Conflicts <= Failed and
// Successful + Failed == len(Details).
type SyncReport struct {
	TotalActions int           `json:"total_actions"`
	Successful   int           `json:"successful"`
	Failed       int           `json:"failed"`
	Conflicts    int           `json:"conflicts"`
	Details      []Outcome     `json:"details"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	Duration     time.Duration `json:"duration_ns,omitempty"`
}

// NewSyncReport returns an empty report for a pass over total candidates.
func NewSyncReport(total int) SyncReport {
	return SyncReport{TotalActions: total, Details: []Outcome{}}
}

// Record appends o and updates the counters.
func (r *SyncReport) Record(o Outcome) {
	r.Details = append(r.Details, o)
	switch o.Kind {
	case OutcomeSuccess:
		r.Successful++
	case OutcomeConflict:
		r.Conflicts++
		r.Failed++
	default:
		r.Failed++
	}
}

// Processed is the number of actions that received an outcome.
func (r SyncReport) Processed() int { return len(r.Details) }
