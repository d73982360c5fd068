package models

import "time"

// Job statuses
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job types
const (
	JobTypeSnapshotDate     = "snapshot_date"     // one day's snapshot
	JobTypeSnapshotBackfill = "snapshot_backfill" // inclusive date range
	JobTypeFillMissing      = "snapshot_fill_missing"
)

// Job is one unit of background snapshot work.
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	StartDate   time.Time `json:"start_date,omitempty"`
	EndDate     time.Time `json:"end_date,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
}

// Key identifies equivalent jobs for pending-dedup.
func (j *Job) Key() string {
	return j.Type + "|" + DateString(j.StartDate) + "|" + DateString(j.EndDate)
}
