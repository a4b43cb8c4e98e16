package aggregation

import (
	"fmt"
	"math"
	"regexp"
)

// ColumnOp selects how an auxiliary column folds across a period.
type ColumnOp string

const (
	// OpSum accumulates energy-like columns.
	OpSum ColumnOp = "sum"
	// OpMax keeps the period peak for demand-like columns.
	OpMax ColumnOp = "max"
)

var demandColumnPattern = regexp.MustCompile(`(?i)(kva|kvar|demand)`)

// MeterConfig is the operator-supplied configuration block for one run:
// which columns define the meter total, how each column folds, per-column
// scale factors, and the meter to assignment-label map.
type MeterConfig struct {
	SelectedColumns []string           `json:"selected_columns" yaml:"selected_columns"`
	ColumnOps       map[string]ColumnOp `json:"column_ops" yaml:"column_ops"`
	ScaleFactors    map[string]float64 `json:"scale_factors" yaml:"scale_factors"`
	Assignments     map[string]string  `json:"assignments" yaml:"assignments"`
}

// Validate checks the configuration at load time so bad operations or scale
// factors are rejected before a job starts instead of mid-aggregation.
func (c MeterConfig) Validate() error {
	for column, op := range c.ColumnOps {
		if op != OpSum && op != OpMax {
			return fmt.Errorf("meter config: column %s has unknown op %q", column, op)
		}
	}
	for column, scale := range c.ScaleFactors {
		if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
			return fmt.Errorf("meter config: column %s has invalid scale %g", column, scale)
		}
	}
	return nil
}

// OpFor returns the configured op for a column, falling back to name-based
// detection: demand/apparent-power columns take the period maximum, anything
// else sums.
func (c MeterConfig) OpFor(column string) ColumnOp {
	if op, ok := c.ColumnOps[column]; ok {
		return op
	}
	if demandColumnPattern.MatchString(column) {
		return OpMax
	}
	return OpSum
}

// ScaleFor returns the configured scale factor for a column, defaulting to 1.
func (c MeterConfig) ScaleFor(column string) float64 {
	if scale, ok := c.ScaleFactors[column]; ok {
		return scale
	}
	return 1
}

// AssignmentFor returns the assignment label for a meter, empty if unset.
func (c MeterConfig) AssignmentFor(meterID string) string {
	return c.Assignments[meterID]
}
