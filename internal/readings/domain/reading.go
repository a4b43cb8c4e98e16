package readings

import (
	"context"
	"time"
)

// Source names the logical table a reading lives in.
type Source string

const (
	// SourceDirect holds readings as uploaded from the meter.
	SourceDirect Source = "direct"
	// SourceHierarchy holds readings produced by hierarchy generation.
	SourceHierarchy Source = "hierarchy"
)

// Origin tags how a hierarchical reading was produced.
type Origin string

const (
	// OriginRaw marks a direct upload.
	OriginRaw Origin = "raw"
	// OriginCopied marks a leaf reading copied into the hierarchy source.
	OriginCopied Origin = "copied"
	// OriginAggregated marks a parent reading summed from its children.
	OriginAggregated Origin = "aggregated"
)

// Reading is a timestamped meter sample: a primary kWh value plus named
// auxiliary register fields (kVA, per-channel values).
type Reading struct {
	MeterID    string
	TS         time.Time
	PrimaryKWh float64
	Fields     map[string]float64
	Source     Source
	Origin     Origin
}

// Page is one page of an ordered reading scan.
type Page struct {
	Readings []Reading
}

// ReadingQuery loads readings in bounded pages ordered by timestamp.
type ReadingQuery interface {
	// FetchPage returns up to limit readings for one meter and source within
	// [from, to), ascending by timestamp, starting at offset. Hierarchical
	// fetches are additionally filtered by origin when origin is non-empty.
	FetchPage(ctx context.Context, meterID string, source Source, origin Origin, from, to time.Time, offset, limit int) ([]Reading, error)
}
