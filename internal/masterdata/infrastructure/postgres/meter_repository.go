package postgres

import (
	"context"
	"database/sql"
	"errors"

	masterdata "meterflow/internal/masterdata/domain"
)

// MeterRepository is a Postgres-backed meter store.
type MeterRepository struct {
	db *sql.DB
}

// NewMeterRepository constructs a meter repository.
func NewMeterRepository(db *sql.DB) *MeterRepository {
	return &MeterRepository{db: db}
}

const meterColumns = `id, site_id, name, serial_no, meter_type, tariff_id, tariff_name, created_at, updated_at`

// Get returns a meter by id, nil when not found.
func (r *MeterRepository) Get(ctx context.Context, id string) (*masterdata.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	if id == "" {
		return nil, errors.New("meter repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+meterColumns+`
FROM meters
WHERE id = $1`, id)

	meter, err := scanMeter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return meter, nil
}

// ListBySite returns all meters for a site ordered by name.
func (r *MeterRepository) ListBySite(ctx context.Context, siteID string) ([]masterdata.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("meter repo: empty site id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+meterColumns+`
FROM meters
WHERE site_id = $1
ORDER BY name ASC, id ASC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meters []masterdata.Meter
	for rows.Next() {
		meter, err := scanMeter(rows)
		if err != nil {
			return nil, err
		}
		meters = append(meters, *meter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return meters, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeter(row rowScanner) (*masterdata.Meter, error) {
	var meter masterdata.Meter
	var serial, meterType, tariffID, tariffName sql.NullString
	if err := row.Scan(
		&meter.ID,
		&meter.SiteID,
		&meter.Name,
		&serial,
		&meterType,
		&tariffID,
		&tariffName,
		&meter.CreatedAt,
		&meter.UpdatedAt,
	); err != nil {
		return nil, err
	}
	meter.SerialNo = serial.String
	meter.Type = masterdata.MeterType(meterType.String)
	if meter.Type == "" {
		meter.Type = masterdata.MeterTypeOther
	}
	meter.TariffID = tariffID.String
	meter.TariffName = tariffName.String
	meter.CreatedAt = meter.CreatedAt.UTC()
	meter.UpdatedAt = meter.UpdatedAt.UTC()
	return &meter, nil
}
