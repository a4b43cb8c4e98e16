package reconciliation

import (
	"context"
	"time"

	masterdata "meterflow/internal/masterdata/domain"
)

// SourceTotals is one data source's view of a meter over a period, with the
// pricing outcome when revenue is enabled.
type SourceTotals struct {
	TotalKWh      float64
	ColumnTotals  map[string]float64
	ColumnMaxima  map[string]float64
	ReadingsCount int

	EnergyCost    float64
	FixedCharges  float64
	DemandCharges float64
	TotalCost     float64
	AvgUnitCost   float64
	PricingError  string
}

// MeterResult is the per-meter outcome of one reconciliation period. Both
// sources are always computed so operators can compare direct against
// hierarchical figures.
type MeterResult struct {
	RunID      string
	MeterID    string
	MeterName  string
	MeterType  masterdata.MeterType
	Assignment string
	IsParent   bool

	Direct    SourceTotals
	Hierarchy SourceTotals

	CreatedAt time.Time
}

// Chosen returns the single-valued view: hierarchical for parents, direct for
// leaves. This replaces the legacy third aggregation path as a derived view.
func (r MeterResult) Chosen() SourceTotals {
	if r.IsParent {
		return r.Hierarchy
	}
	return r.Direct
}

// ResultRepository persists meter results.
type ResultRepository interface {
	InsertResults(ctx context.Context, results []MeterResult) error
	ListByRun(ctx context.Context, runID string) ([]MeterResult, error)
}
