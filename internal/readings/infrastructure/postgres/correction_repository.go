package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	readings "meterflow/internal/readings/domain"
)

// CorrectionRepository persists sanitizer corrections for audit.
type CorrectionRepository struct {
	db *sql.DB
}

// NewCorrectionRepository constructs a correction repository.
func NewCorrectionRepository(db *sql.DB) *CorrectionRepository {
	return &CorrectionRepository{db: db}
}

// InsertCorrections stores the corrections emitted during a run. The batch is
// written in one transaction so a partial run never leaves partial audit rows.
func (r *CorrectionRepository) InsertCorrections(ctx context.Context, runID string, corrections []readings.Correction) error {
	if r == nil || r.db == nil {
		return errors.New("correction repo: nil db")
	}
	if runID == "" {
		return errors.New("correction repo: empty run id")
	}
	if len(corrections) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, c := range corrections {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO reading_corrections (
	run_id, meter_id, field, ts, original_value, corrected_value, reason, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`,
			runID, c.MeterID, c.Field, c.TS.UTC(), c.Original, c.Corrected, c.Reason, createdAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListByRun returns the corrections recorded for a run ordered by meter and
// timestamp.
func (r *CorrectionRepository) ListByRun(ctx context.Context, runID string) ([]readings.Correction, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("correction repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT meter_id, field, ts, original_value, corrected_value, reason, created_at
FROM reading_corrections
WHERE run_id = $1
ORDER BY meter_id ASC, ts ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var corrections []readings.Correction
	for rows.Next() {
		var c readings.Correction
		if err := rows.Scan(&c.MeterID, &c.Field, &c.TS, &c.Original, &c.Corrected, &c.Reason, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.TS = c.TS.UTC()
		c.CreatedAt = c.CreatedAt.UTC()
		corrections = append(corrections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return corrections, nil
}
