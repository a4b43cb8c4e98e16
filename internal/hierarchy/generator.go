package hierarchy

import (
	"context"
	"time"
)

// Generator produces hierarchical readings for a period: leaf readings are
// copied through from the direct source, parent readings are summed from
// children. Invoked once per period for leaves, then once per parent in
// bottom-up order. Returns the number of readings produced.
type Generator interface {
	CopyLeafReadings(ctx context.Context, meterIDs []string, from, to time.Time, columns []string) (int, error)
	AggregateParent(ctx context.Context, parentID string, childIDs []string, from, to time.Time, columns []string) (int, error)
}
