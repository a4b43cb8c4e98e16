package postgres

import (
	"context"
	"database/sql"
	"errors"

	masterdata "meterflow/internal/masterdata/domain"
)

// SiteRepository is a Postgres-backed site store.
type SiteRepository struct {
	db *sql.DB
}

// NewSiteRepository constructs a site repository.
func NewSiteRepository(db *sql.DB) *SiteRepository {
	return &SiteRepository{db: db}
}

// Get returns a site by id, nil when not found.
func (r *SiteRepository) Get(ctx context.Context, id string) (*masterdata.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}
	if id == "" {
		return nil, errors.New("site repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, supply_authority, timezone, created_at, updated_at
FROM sites
WHERE id = $1`, id)

	var site masterdata.Site
	var authority, timezone sql.NullString
	if err := row.Scan(
		&site.ID,
		&site.Name,
		&authority,
		&timezone,
		&site.CreatedAt,
		&site.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	site.SupplyAuthority = authority.String
	site.Timezone = timezone.String
	site.CreatedAt = site.CreatedAt.UTC()
	site.UpdatedAt = site.UpdatedAt.UTC()
	return &site, nil
}
