package reconciliation

import (
	"context"
	"errors"
	"time"
)

// Job statuses. A job is terminal once status leaves running.
const (
	JobStatusRunning   = "running"
	JobStatusComplete  = "complete"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job is the orchestration state of one reconciliation request.
type Job struct {
	ID     string
	SiteID string
	Status string

	TotalPeriods     int
	CompletedPeriods int
	CurrentPeriod    string
	CancelRequested  bool
	RevenueEnabled   bool
	Error            string

	RequestJSON []byte

	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// Validate checks job invariants.
func (j Job) Validate() error {
	if j.ID == "" {
		return errors.New("job: empty id")
	}
	if j.SiteID == "" {
		return errors.New("job: empty site id")
	}
	return nil
}

// JobRepository persists reconciliation jobs. Updates are single-row and
// idempotent-safe to retry; the runner is the only writer after creation
// except for the cancel flag.
type JobRepository interface {
	CreateJob(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	UpdateProgress(ctx context.Context, id, currentPeriod string, completed int) error
	UpdateStatus(ctx context.Context, id, status, errMsg string, endedAt *time.Time) error
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}
