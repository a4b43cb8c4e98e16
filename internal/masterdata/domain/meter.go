package masterdata

import (
	"context"
	"errors"
	"time"
)

// MeterType classifies a meter's role on the site.
type MeterType string

const (
	MeterTypeBulk         MeterType = "bulk"
	MeterTypeCheck        MeterType = "check"
	MeterTypeTenant       MeterType = "tenant"
	MeterTypeSolar        MeterType = "solar"
	MeterTypeCouncil      MeterType = "council"
	MeterTypeDistribution MeterType = "distribution"
	MeterTypeOther        MeterType = "other"
)

// Meter represents a utility meter owned by a site. The tariff assignment is
// either a direct tariff id or a tariff name resolved per billing period.
type Meter struct {
	ID         string
	SiteID     string
	Name       string
	SerialNo   string
	Type       MeterType
	TariffID   string
	TariffName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks meter invariants.
func (m Meter) Validate() error {
	if m.ID == "" {
		return errors.New("meter: empty id")
	}
	if m.SiteID == "" {
		return errors.New("meter: empty site id")
	}
	return nil
}

// MeterRepository manages meter persistence.
type MeterRepository interface {
	Get(ctx context.Context, id string) (*Meter, error)
	ListBySite(ctx context.Context, siteID string) ([]Meter, error)
}
