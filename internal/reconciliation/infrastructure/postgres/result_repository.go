package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	masterdata "meterflow/internal/masterdata/domain"
	recon "meterflow/internal/reconciliation/domain"
)

// ResultRepository persists per-meter results in Postgres. Each source view
// is stored as one json document alongside the queryable identity columns.
type ResultRepository struct {
	db *sql.DB
}

// NewResultRepository constructs a result repository.
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// InsertResults stores the results of one run in a single transaction.
func (r *ResultRepository) InsertResults(ctx context.Context, results []recon.MeterResult) error {
	if r == nil || r.db == nil {
		return errors.New("result repo: nil db")
	}
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, result := range results {
		if result.RunID == "" || result.MeterID == "" {
			return errors.New("result repo: missing run or meter id")
		}
		direct, err := json.Marshal(result.Direct)
		if err != nil {
			return err
		}
		hierarchy, err := json.Marshal(result.Hierarchy)
		if err != nil {
			return err
		}
		createdAt := result.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO recon_results (
	run_id, meter_id, meter_name, meter_type, assignment, is_parent,
	direct, hierarchy, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`,
			result.RunID, result.MeterID, result.MeterName, string(result.MeterType), result.Assignment,
			result.IsParent, direct, hierarchy, createdAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListByRun returns the results of a run ordered by meter name.
func (r *ResultRepository) ListByRun(ctx context.Context, runID string) ([]recon.MeterResult, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("result repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, meter_id, meter_name, meter_type, assignment, is_parent,
	direct, hierarchy, created_at
FROM recon_results
WHERE run_id = $1
ORDER BY meter_name ASC, meter_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []recon.MeterResult
	for rows.Next() {
		var result recon.MeterResult
		var meterType, assignment sql.NullString
		var direct, hierarchy []byte
		if err := rows.Scan(
			&result.RunID,
			&result.MeterID,
			&result.MeterName,
			&meterType,
			&assignment,
			&result.IsParent,
			&direct,
			&hierarchy,
			&result.CreatedAt,
		); err != nil {
			return nil, err
		}
		result.MeterType = masterdata.MeterType(meterType.String)
		result.Assignment = assignment.String
		if len(direct) > 0 {
			if err := json.Unmarshal(direct, &result.Direct); err != nil {
				return nil, err
			}
		}
		if len(hierarchy) > 0 {
			if err := json.Unmarshal(hierarchy, &result.Hierarchy); err != nil {
				return nil, err
			}
		}
		result.CreatedAt = result.CreatedAt.UTC()
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
