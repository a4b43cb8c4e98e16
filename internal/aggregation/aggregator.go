package aggregation

import (
	"context"
	"log"
	"time"

	readings "meterflow/internal/readings/domain"
)

const defaultPageSize = 500

// Totals is the per-meter outcome of aggregating one source over one period.
type Totals struct {
	TotalKWh      float64
	ColumnTotals  map[string]float64
	ColumnMaxima  map[string]float64
	ReadingsCount int
}

// MaxDemand returns the largest observed maximum across demand columns,
// used for tariff demand charges.
func (t Totals) MaxDemand() float64 {
	max := 0.0
	for _, v := range t.ColumnMaxima {
		if v > max {
			max = v
		}
	}
	return max
}

// Aggregator folds a meter's readings from one source into period totals,
// sanitizing every value inline.
type Aggregator struct {
	query    readings.ReadingQuery
	pageSize int
	logger   *log.Logger
}

// Option configures the aggregator.
type Option func(*Aggregator)

// WithPageSize overrides the scan page size.
func WithPageSize(size int) Option {
	return func(a *Aggregator) {
		if size > 0 {
			a.pageSize = size
		}
	}
}

// NewAggregator constructs an aggregator.
func NewAggregator(query readings.ReadingQuery, logger *log.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{query: query, pageSize: defaultPageSize, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate scans one meter and source over [from, to) in ascending pages and
// returns the folded totals. Hierarchical scans for a parent meter only see
// aggregation-origin rows; for a leaf only copy-origin rows; direct scans are
// unfiltered. A page fetch error ends the scan with partial totals.
// Corrections emitted by the sanitizer are appended to the shared log.
func (a *Aggregator) Aggregate(ctx context.Context, meterID string, source readings.Source, isParent bool, from, to time.Time, cfg MeterConfig, corrections *readings.CorrectionLog) Totals {
	totals := Totals{
		ColumnTotals: make(map[string]float64),
		ColumnMaxima: make(map[string]float64),
	}
	if a == nil || a.query == nil {
		return totals
	}

	origin := readings.Origin("")
	if source == readings.SourceHierarchy {
		if isParent {
			origin = readings.OriginAggregated
		} else {
			origin = readings.OriginCopied
		}
	}

	fold := newFolder(meterID, cfg, corrections, &totals)
	offset := 0
	for {
		page, err := a.query.FetchPage(ctx, meterID, source, origin, from, to, offset, a.pageSize)
		if err != nil {
			if a.logger != nil {
				a.logger.Printf("event=reading_page_error meter_id=%s source=%s offset=%d error=%v", meterID, source, offset, err)
			}
			break
		}
		for i := range page {
			fold.push(page[i])
		}
		if len(page) < a.pageSize {
			break
		}
		offset += len(page)
	}
	fold.flush()

	totals.TotalKWh = resolveTotal(totals, cfg)
	return totals
}

// resolveTotal recomputes the meter total as the sum of the user-selected,
// non-demand columns when a selection exists, else the primary-value sum.
func resolveTotal(totals Totals, cfg MeterConfig) float64 {
	if len(cfg.SelectedColumns) == 0 {
		return totals.TotalKWh
	}
	selected := 0.0
	found := false
	for _, column := range cfg.SelectedColumns {
		if cfg.OpFor(column) == OpMax {
			continue
		}
		if v, ok := totals.ColumnTotals[column]; ok {
			selected += v
			found = true
		}
	}
	if !found {
		return totals.TotalKWh
	}
	return selected
}

// folder sanitizes and folds readings one behind the scan so each reading
// sees both of its raw neighbors.
type folder struct {
	meterID     string
	cfg         MeterConfig
	corrections *readings.CorrectionLog
	totals      *Totals

	prev    *readings.Reading
	pending *readings.Reading
}

func newFolder(meterID string, cfg MeterConfig, corrections *readings.CorrectionLog, totals *Totals) *folder {
	return &folder{meterID: meterID, cfg: cfg, corrections: corrections, totals: totals}
}

func (f *folder) push(r readings.Reading) {
	if f.pending != nil {
		f.fold(*f.pending, f.prev, &r)
		f.prev = f.pending
	}
	f.pending = &r
}

func (f *folder) flush() {
	if f.pending != nil {
		f.fold(*f.pending, f.prev, nil)
		f.pending = nil
	}
}

func (f *folder) fold(r readings.Reading, prev, next *readings.Reading) {
	primary, correction := readings.Sanitize(r.PrimaryKWh, readings.PrimaryField,
		neighborPrimary(prev), neighborPrimary(next), f.meterID, r.TS)
	f.record(correction)
	f.totals.TotalKWh += primary

	for field, value := range r.Fields {
		sanitized, correction := readings.Sanitize(value, field,
			neighborField(prev, field), neighborField(next, field), f.meterID, r.TS)
		f.record(correction)

		scaled := sanitized * f.cfg.ScaleFor(field)
		switch f.cfg.OpFor(field) {
		case OpMax:
			if current, ok := f.totals.ColumnMaxima[field]; !ok || scaled > current {
				f.totals.ColumnMaxima[field] = scaled
			}
		default:
			f.totals.ColumnTotals[field] += scaled
		}
	}
	f.totals.ReadingsCount++
}

func (f *folder) record(c *readings.Correction) {
	if c != nil && f.corrections != nil {
		f.corrections.Append(*c)
	}
}

func neighborPrimary(r *readings.Reading) *float64 {
	if r == nil {
		return nil
	}
	v := r.PrimaryKWh
	return &v
}

func neighborField(r *readings.Reading, field string) *float64 {
	if r == nil {
		return nil
	}
	v, ok := r.Fields[field]
	if !ok {
		return nil
	}
	return &v
}
