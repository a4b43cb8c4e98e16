package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultReadingsTable = "meter_readings"

// Generator materializes the hierarchical reading source in Postgres:
// leaf readings are copied through from the direct source, parent readings
// are summed from their children. Each call regenerates the window
// (delete then insert) so repeated runs stay idempotent.
type Generator struct {
	db    *sql.DB
	table string
}

// Option configures the generator.
type Option func(*Generator)

// WithReadingsTable overrides the default readings table name.
func WithReadingsTable(table string) Option {
	return func(g *Generator) {
		if g != nil && table != "" {
			g.table = table
		}
	}
}

// NewGenerator constructs a generator.
func NewGenerator(db *sql.DB, opts ...Option) *Generator {
	g := &Generator{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CopyLeafReadings copies each leaf meter's direct readings into the
// hierarchy source with a copied origin. Returns the number of rows written.
func (g *Generator) CopyLeafReadings(ctx context.Context, meterIDs []string, from, to time.Time, columns []string) (int, error) {
	if g == nil || g.db == nil {
		return 0, errors.New("hierarchy generator: nil db")
	}
	if len(meterIDs) == 0 {
		return 0, nil
	}
	if from.IsZero() || to.IsZero() {
		return 0, errors.New("hierarchy generator: invalid window")
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	total := 0
	for _, meterID := range meterIDs {
		if meterID == "" {
			continue
		}
		if err := g.deleteWindow(ctx, tx, meterID, from, to); err != nil {
			return 0, fmt.Errorf("clear %s: %w", meterID, err)
		}
		query := fmt.Sprintf(`
INSERT INTO %s (meter_id, ts, kwh, fields, source, origin, created_at)
SELECT meter_id, ts, kwh, fields, 'hierarchy', 'copied', $4
FROM %s
WHERE meter_id = $1
	AND source = 'direct'
	AND ts >= $2
	AND ts < $3`, g.table, g.table)
		res, err := tx.ExecContext(ctx, query, meterID, from.UTC(), to.UTC(), time.Now().UTC())
		if err != nil {
			return 0, fmt.Errorf("copy %s: %w", meterID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// AggregateParent sums the hierarchical readings of a parent's children per
// timestamp into the parent's own hierarchical rows with an aggregated
// origin. The configured columns are summed inside the fields document;
// unconfigured fields are dropped. Returns the number of rows written.
func (g *Generator) AggregateParent(ctx context.Context, parentID string, childIDs []string, from, to time.Time, columns []string) (int, error) {
	if g == nil || g.db == nil {
		return 0, errors.New("hierarchy generator: nil db")
	}
	if parentID == "" {
		return 0, errors.New("hierarchy generator: empty parent id")
	}
	if len(childIDs) == 0 {
		return 0, nil
	}
	if from.IsZero() || to.IsZero() {
		return 0, errors.New("hierarchy generator: invalid window")
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := g.deleteWindow(ctx, tx, parentID, from, to); err != nil {
		return 0, fmt.Errorf("clear %s: %w", parentID, err)
	}

	fieldsExpr, fieldArgs := sumFieldsExpr(columns, 6)
	query := fmt.Sprintf(`
INSERT INTO %s (meter_id, ts, kwh, fields, source, origin, created_at)
SELECT $1, ts, COALESCE(SUM(kwh), 0), %s, 'hierarchy', 'aggregated', $5
FROM %s
WHERE meter_id = ANY($2)
	AND source = 'hierarchy'
	AND ts >= $3
	AND ts < $4
GROUP BY ts`, g.table, fieldsExpr, g.table)

	args := append([]any{parentID, childIDs, from.UTC(), to.UTC(), time.Now().UTC()}, fieldArgs...)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("aggregate %s: %w", parentID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (g *Generator) deleteWindow(ctx context.Context, tx *sql.Tx, meterID string, from, to time.Time) error {
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE meter_id = $1
	AND source = 'hierarchy'
	AND ts >= $2
	AND ts < $3`, g.table)
	_, err := tx.ExecContext(ctx, query, meterID, from.UTC(), to.UTC())
	return err
}

// sumFieldsExpr builds a jsonb_build_object expression summing each named
// column out of the fields document. Column names travel as query parameters
// starting at the given placeholder index.
func sumFieldsExpr(columns []string, firstParam int) (string, []any) {
	if len(columns) == 0 {
		return "'{}'::jsonb", nil
	}
	pairs := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	param := firstParam
	for _, column := range columns {
		pairs = append(pairs, fmt.Sprintf(
			"$%d::text, COALESCE(SUM((fields->>$%d)::double precision), 0)", param, param))
		args = append(args, column)
		param++
	}
	return "jsonb_build_object(" + strings.Join(pairs, ", ") + ")", args
}
