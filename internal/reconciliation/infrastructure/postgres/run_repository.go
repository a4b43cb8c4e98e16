package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	recon "meterflow/internal/reconciliation/domain"
)

// RunRepository persists reconciliation run summaries in Postgres. Category
// axes are stored as json documents; they are written once and read whole.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository constructs a run repository.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// InsertRun stores a run summary.
func (r *RunRepository) InsertRun(ctx context.Context, run *recon.Run) error {
	if r == nil || r.db == nil {
		return errors.New("run repo: nil db")
	}
	if run == nil {
		return errors.New("run repo: nil run")
	}
	if run.ID == "" || run.JobID == "" {
		return errors.New("run repo: missing run or job id")
	}
	energy, err := json.Marshal(run.Energy)
	if err != nil {
		return err
	}
	money, err := json.Marshal(run.Money)
	if err != nil {
		return err
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO recon_runs (
	id, job_id, site_id, period_id, period_label, date_from, date_to,
	energy, revenue_enabled, money, avg_cost_per_kwh, meter_count, corrections_count, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`,
		run.ID, run.JobID, run.SiteID, run.PeriodID, run.PeriodLabel, run.DateFrom.UTC(), run.DateTo.UTC(),
		energy, run.RevenueEnabled, money, run.AvgCostPerKWh, run.MeterCount, run.CorrectionsCount, createdAt)
	return err
}

const runColumns = `id, job_id, site_id, period_id, period_label, date_from, date_to,
	energy, revenue_enabled, money, avg_cost_per_kwh, meter_count, corrections_count, created_at`

// Get returns a run by id, nil when not found.
func (r *RunRepository) Get(ctx context.Context, id string) (*recon.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("run repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+runColumns+`
FROM recon_runs
WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// ListByJob returns the runs produced by a job ordered by period start.
func (r *RunRepository) ListByJob(ctx context.Context, jobID string) ([]recon.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("run repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM recon_runs
WHERE job_id = $1
ORDER BY date_from ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []recon.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*recon.Run, error) {
	var run recon.Run
	var energy, money []byte
	if err := row.Scan(
		&run.ID,
		&run.JobID,
		&run.SiteID,
		&run.PeriodID,
		&run.PeriodLabel,
		&run.DateFrom,
		&run.DateTo,
		&energy,
		&run.RevenueEnabled,
		&money,
		&run.AvgCostPerKWh,
		&run.MeterCount,
		&run.CorrectionsCount,
		&run.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(energy) > 0 {
		if err := json.Unmarshal(energy, &run.Energy); err != nil {
			return nil, err
		}
	}
	if len(money) > 0 {
		if err := json.Unmarshal(money, &run.Money); err != nil {
			return nil, err
		}
	}
	run.DateFrom = run.DateFrom.UTC()
	run.DateTo = run.DateTo.UTC()
	run.CreatedAt = run.CreatedAt.UTC()
	return &run, nil
}
