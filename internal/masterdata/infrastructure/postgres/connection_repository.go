package postgres

import (
	"context"
	"database/sql"
	"errors"

	masterdata "meterflow/internal/masterdata/domain"
)

// ConnectionRepository is a Postgres-backed hierarchy edge store.
type ConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository constructs a connection repository.
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// ListBySite returns the site's parent to child edges.
func (r *ConnectionRepository) ListBySite(ctx context.Context, siteID string) ([]masterdata.Connection, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("connection repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("connection repo: empty site id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, site_id, parent_meter_id, child_meter_id
FROM meter_connections
WHERE site_id = $1
ORDER BY parent_meter_id ASC, child_meter_id ASC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []masterdata.Connection
	for rows.Next() {
		var conn masterdata.Connection
		if err := rows.Scan(&conn.ID, &conn.SiteID, &conn.ParentID, &conn.ChildID); err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return connections, nil
}
