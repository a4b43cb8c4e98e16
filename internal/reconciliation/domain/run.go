package reconciliation

import (
	"context"
	"time"
)

// CategoryTotals holds one reconciliation axis (energy or money) bucketed by
// supply/distribution category.
type CategoryTotals struct {
	GridSupply   float64
	Solar        float64
	Bulk         float64
	Check        float64
	Tenant       float64
	Distribution float64
	Other        float64
	Unassigned   float64

	TotalSupply       float64
	TotalDistribution float64
	Discrepancy       float64
	RecoveryRatePct   float64
}

// Run is the persisted site-wide summary of one reconciled period.
type Run struct {
	ID          string
	JobID       string
	SiteID      string
	PeriodID    string
	PeriodLabel string
	DateFrom    time.Time
	DateTo      time.Time

	Energy CategoryTotals

	RevenueEnabled bool
	Money          CategoryTotals
	AvgCostPerKWh  float64

	MeterCount       int
	CorrectionsCount int
	CreatedAt        time.Time
}

// RunRepository persists reconciliation runs.
type RunRepository interface {
	InsertRun(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	ListByJob(ctx context.Context, jobID string) ([]Run, error)
}
