package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	recon "meterflow/internal/reconciliation/domain"
)

// JobRepository persists reconciliation jobs in Postgres.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository constructs a job repository.
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a new job row.
func (r *JobRepository) CreateJob(ctx context.Context, job *recon.Job) error {
	if r == nil || r.db == nil {
		return errors.New("job repo: nil db")
	}
	if job == nil {
		return errors.New("job repo: nil job")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO recon_jobs (
	id, site_id, status, total_periods, completed_periods, current_period,
	cancel_requested, revenue_enabled, error, request, created_at, updated_at, started_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11,$12
)`,
		job.ID, job.SiteID, job.Status, job.TotalPeriods, job.CompletedPeriods, job.CurrentPeriod,
		job.CancelRequested, job.RevenueEnabled, job.Error, job.RequestJSON, createdAt, job.StartedAt)
	return err
}

// Get returns a job by id, nil when not found.
func (r *JobRepository) Get(ctx context.Context, id string) (*recon.Job, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("job repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, site_id, status, total_periods, completed_periods, current_period,
	cancel_requested, revenue_enabled, error, request, created_at, updated_at, started_at, ended_at
FROM recon_jobs
WHERE id = $1`, id)

	var job recon.Job
	var currentPeriod, errMsg sql.NullString
	var started, ended sql.NullTime
	if err := row.Scan(
		&job.ID,
		&job.SiteID,
		&job.Status,
		&job.TotalPeriods,
		&job.CompletedPeriods,
		&currentPeriod,
		&job.CancelRequested,
		&job.RevenueEnabled,
		&errMsg,
		&job.RequestJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
		&started,
		&ended,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	job.CurrentPeriod = currentPeriod.String
	job.Error = errMsg.String
	if started.Valid {
		t := started.Time.UTC()
		job.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time.UTC()
		job.EndedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

// UpdateProgress writes the current period pointer and completed count.
func (r *JobRepository) UpdateProgress(ctx context.Context, id, currentPeriod string, completed int) error {
	if r == nil || r.db == nil {
		return errors.New("job repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE recon_jobs
SET current_period = $1, completed_periods = $2, updated_at = $3
WHERE id = $4`, currentPeriod, completed, time.Now().UTC(), id)
	return err
}

// UpdateStatus sets the terminal (or running) status, error message, and end
// time.
func (r *JobRepository) UpdateStatus(ctx context.Context, id, status, errMsg string, endedAt *time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("job repo: nil db")
	}
	if id == "" {
		return errors.New("job repo: empty job id")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE recon_jobs
SET status = $1, error = $2, ended_at = $3, updated_at = $4
WHERE id = $5`, status, errMsg, endedAt, time.Now().UTC(), id)
	return err
}

// RequestCancel flags a running job for cooperative cancellation.
func (r *JobRepository) RequestCancel(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("job repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE recon_jobs
SET cancel_requested = TRUE, updated_at = $1
WHERE id = $2 AND status = $3`, time.Now().UTC(), id, recon.JobStatusRunning)
	return err
}

// CancelRequested reports whether cancellation has been flagged for the job.
func (r *JobRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("job repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT cancel_requested FROM recon_jobs WHERE id = $1`, id)
	var cancelled bool
	if err := row.Scan(&cancelled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return cancelled, nil
}
