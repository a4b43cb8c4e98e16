package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	tariff "meterflow/internal/tariff/domain"
)

// TariffRepository loads tariff structures with their blocks and charges.
type TariffRepository struct {
	db *sql.DB
}

// NewTariffRepository constructs a tariff repository.
func NewTariffRepository(db *sql.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

// Get returns a tariff by id with blocks and charges loaded, nil when not
// found.
func (r *TariffRepository) Get(ctx context.Context, id string) (*tariff.Tariff, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tariff repo: nil db")
	}
	if id == "" {
		return nil, errors.New("tariff repo: empty id")
	}

	row := r.db.QueryRowContext(ctx, `
SELECT id, name, supply_authority, currency, high_season_months
FROM tariffs
WHERE id = $1`, id)

	var structure tariff.Tariff
	var authority, currency, highMonths sql.NullString
	if err := row.Scan(&structure.ID, &structure.Name, &authority, &currency, &highMonths); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	structure.SupplyAuthority = authority.String
	structure.Currency = currency.String
	structure.HighSeasonMonths = parseMonths(highMonths.String)

	blocks, err := r.loadBlocks(ctx, id)
	if err != nil {
		return nil, err
	}
	structure.Blocks = blocks

	charges, err := r.loadCharges(ctx, id)
	if err != nil {
		return nil, err
	}
	structure.Charges = charges

	return &structure, nil
}

// parseMonths decodes a comma separated month list ("6,7,8") into months.
// Out of range entries are dropped.
func parseMonths(value string) []time.Month {
	if value == "" {
		return nil
	}
	var months []time.Month
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > 12 {
			continue
		}
		months = append(months, time.Month(n))
	}
	return months
}

func (r *TariffRepository) loadBlocks(ctx context.Context, tariffID string) ([]tariff.Block, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT block_number, from_kwh, to_kwh, rate_cents
FROM tariff_blocks
WHERE tariff_id = $1
ORDER BY block_number ASC`, tariffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []tariff.Block
	for rows.Next() {
		var block tariff.Block
		var toKWh sql.NullFloat64
		if err := rows.Scan(&block.Number, &block.FromKWh, &toKWh, &block.RateCents); err != nil {
			return nil, err
		}
		if toKWh.Valid {
			upper := toKWh.Float64
			block.ToKWh = &upper
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

func (r *TariffRepository) loadCharges(ctx context.Context, tariffID string) ([]tariff.Charge, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT charge_type, season, amount
FROM tariff_charges
WHERE tariff_id = $1
ORDER BY charge_type ASC, season ASC`, tariffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []tariff.Charge
	for rows.Next() {
		var charge tariff.Charge
		var chargeType, season string
		if err := rows.Scan(&chargeType, &season, &charge.Amount); err != nil {
			return nil, err
		}
		charge.Type = tariff.ChargeType(chargeType)
		charge.Season = tariff.Season(season)
		if charge.Season == "" {
			charge.Season = tariff.SeasonAll
		}
		charges = append(charges, charge)
	}
	return charges, rows.Err()
}

// PeriodResolver maps a supply authority and tariff name to the tariff ids in
// effect over a date range, newest effective version first.
type PeriodResolver struct {
	db *sql.DB
}

// NewPeriodResolver constructs a period resolver.
func NewPeriodResolver(db *sql.DB) *PeriodResolver {
	return &PeriodResolver{db: db}
}

// Resolve returns the matching tariff ids whose effective window overlaps
// [from, to].
func (r *PeriodResolver) Resolve(ctx context.Context, authority, name string, from, to time.Time) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tariff resolver: nil db")
	}
	if name == "" {
		return nil, errors.New("tariff resolver: empty tariff name")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id
FROM tariffs
WHERE supply_authority = $1
	AND name = $2
	AND effective_from <= $4
	AND (effective_to IS NULL OR effective_to >= $3)
ORDER BY effective_from DESC`, authority, name, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
