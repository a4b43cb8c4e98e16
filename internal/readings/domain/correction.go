package readings

import (
	"context"
	"time"
)

// Correction records a repaired reading value. Corrections are append-only
// and used for audit export, never for control flow.
type Correction struct {
	MeterID   string
	Field     string
	TS        time.Time
	Original  float64
	Corrected float64
	Reason    string
	CreatedAt time.Time
}

// CorrectionLog collects corrections emitted while a run is in flight.
type CorrectionLog struct {
	corrections []Correction
}

// Append adds a correction to the log.
func (l *CorrectionLog) Append(c Correction) {
	if l == nil {
		return
	}
	l.corrections = append(l.corrections, c)
}

// All returns the corrections recorded so far.
func (l *CorrectionLog) All() []Correction {
	if l == nil {
		return nil
	}
	return l.corrections
}

// Len returns the number of recorded corrections.
func (l *CorrectionLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.corrections)
}

// CorrectionRepository persists correction records.
type CorrectionRepository interface {
	InsertCorrections(ctx context.Context, runID string, corrections []Correction) error
	ListByRun(ctx context.Context, runID string) ([]Correction, error)
}
