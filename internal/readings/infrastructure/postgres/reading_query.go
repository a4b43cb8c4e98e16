package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	readings "meterflow/internal/readings/domain"
)

const defaultReadingsTable = "meter_readings"

// ReadingQuery pages readings out of Postgres ordered by timestamp.
type ReadingQuery struct {
	db    *sql.DB
	table string
}

// QueryOption configures the reading query.
type QueryOption func(*ReadingQuery)

// WithReadingsTable overrides the default readings table name.
func WithReadingsTable(table string) QueryOption {
	return func(q *ReadingQuery) {
		if q != nil && table != "" {
			q.table = table
		}
	}
}

// NewReadingQuery constructs a query with the default table name.
func NewReadingQuery(db *sql.DB, opts ...QueryOption) *ReadingQuery {
	query := &ReadingQuery{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// FetchPage returns up to limit readings for one meter and source within
// [from, to), ascending by timestamp. Origin filters hierarchical rows when
// non-empty.
func (q *ReadingQuery) FetchPage(ctx context.Context, meterID string, source readings.Source, origin readings.Origin, from, to time.Time, offset, limit int) ([]readings.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	if meterID == "" || from.IsZero() || to.IsZero() {
		return nil, errors.New("reading query: invalid arguments")
	}
	if limit <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
SELECT ts, kwh, fields, origin
FROM %s
WHERE meter_id = $1
	AND source = $2
	AND ($3 = '' OR origin = $3)
	AND ts >= $4
	AND ts < $5
ORDER BY ts ASC
LIMIT $6 OFFSET $7`, q.table)

	rows, err := q.db.QueryContext(ctx, query,
		meterID, string(source), string(origin), from.UTC(), to.UTC(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []readings.Reading
	for rows.Next() {
		var reading readings.Reading
		var kwh sql.NullFloat64
		var fields []byte
		var rowOrigin sql.NullString
		if err := rows.Scan(&reading.TS, &kwh, &fields, &rowOrigin); err != nil {
			return nil, err
		}
		reading.MeterID = meterID
		reading.TS = reading.TS.UTC()
		reading.PrimaryKWh = kwh.Float64
		reading.Source = source
		reading.Origin = readings.Origin(rowOrigin.String)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &reading.Fields); err != nil {
				return nil, fmt.Errorf("reading query: decode fields at %s: %w", reading.TS, err)
			}
		}
		page = append(page, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}
