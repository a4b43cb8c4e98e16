package application

import (
	"errors"
	"fmt"
	"time"

	"meterflow/internal/aggregation"
)

// Period is one billing period to reconcile. From/To bound the half-open
// window [From, To): reading scans, hierarchy generation, and tariff
// proration all exclude To, so a calendar month runs first-of-month to
// first-of-next-month.
type Period struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	From  time.Time `json:"date_from"`
	To    time.Time `json:"date_to"`
}

// StartRequest is the single entry point payload: which site, which periods,
// whether to price, and the operator's meter configuration block.
type StartRequest struct {
	SiteID         string                  `json:"site_id"`
	Periods        []Period                `json:"periods"`
	RevenueEnabled bool                    `json:"revenue_enabled"`
	MeterConfig    aggregation.MeterConfig `json:"meter_config"`
}

// Validate checks the request before a job is created.
func (r StartRequest) Validate() error {
	if r.SiteID == "" {
		return errors.New("start request: site_id required")
	}
	if len(r.Periods) == 0 {
		return errors.New("start request: at least one period required")
	}
	for _, period := range r.Periods {
		if period.ID == "" {
			return errors.New("start request: period id required")
		}
		if period.From.IsZero() || period.To.IsZero() || period.To.Before(period.From) {
			return fmt.Errorf("start request: period %s has invalid date range", period.ID)
		}
	}
	return r.MeterConfig.Validate()
}

// DisplayLabel returns the period label, falling back to the id.
func (p Period) DisplayLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.ID
}
