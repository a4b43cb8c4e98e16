package tariff

import (
	"context"
	"errors"
	"time"
)

// Season scopes a charge line item.
type Season string

const (
	// SeasonAll applies year-round (combined seasons).
	SeasonAll Season = "all"
	// SeasonHigh applies during high-demand months.
	SeasonHigh Season = "high"
	// SeasonLow applies outside high-demand months.
	SeasonLow Season = "low"
)

// ChargeType names a tariff charge line item kind.
type ChargeType string

const (
	// ChargeBasicMonthly is a fixed monthly service charge, prorated by days.
	ChargeBasicMonthly ChargeType = "basic_monthly"
	// ChargeEnergy is a flat or seasonal energy rate, cents per kWh.
	ChargeEnergy ChargeType = "energy"
	// ChargeDemand is a seasonal capacity rate, currency per kVA.
	ChargeDemand ChargeType = "demand"
)

// Block is one band of a progressive energy tariff. ToKWh is nil for the
// unbounded last block. RateCents is cents per kWh.
type Block struct {
	Number    int
	FromKWh   float64
	ToKWh     *float64
	RateCents float64
}

// Charge is a non-block tariff line item.
type Charge struct {
	Type   ChargeType
	Season Season
	// Amount is currency per month for basic charges, currency per kVA for
	// demand charges, cents per kWh for energy charges.
	Amount float64
}

// Tariff is the pricing structure applied to a meter for a period.
type Tariff struct {
	ID               string
	Name             string
	SupplyAuthority  string
	Currency         string
	HighSeasonMonths []time.Month
	Blocks           []Block
	Charges          []Charge
}

// Validate checks tariff invariants.
func (t Tariff) Validate() error {
	if t.ID == "" {
		return errors.New("tariff: empty id")
	}
	for _, block := range t.Blocks {
		if block.ToKWh != nil && *block.ToKWh <= block.FromKWh {
			return errors.New("tariff: block upper bound not above lower bound")
		}
	}
	return nil
}

// IsHighMonth reports whether a month belongs to the high-demand season.
func (t Tariff) IsHighMonth(m time.Month) bool {
	for _, high := range t.HighSeasonMonths {
		if high == m {
			return true
		}
	}
	return false
}

// Repository loads tariff structures.
type Repository interface {
	Get(ctx context.Context, id string) (*Tariff, error)
}

// PeriodResolver maps (supply authority, tariff name, date range) to the
// tariff ids in effect for that range. Callers take the first match.
type PeriodResolver interface {
	Resolve(ctx context.Context, authority, name string, from, to time.Time) ([]string, error)
}
