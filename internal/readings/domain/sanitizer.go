package readings

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// PrimaryField is the field name used when sanitizing the primary kWh value.
const PrimaryField = "kwh"

// Magnitude thresholds by field class. Fixed constants, not learned.
const (
	EnergyThresholdKWh  = 10_000
	ApparentThresholdVA = 50_000
	MetadataThreshold   = 1_000_000
)

var (
	energyFieldPattern   = regexp.MustCompile(`(?i)(kwh|energy|import|export)`)
	apparentFieldPattern = regexp.MustCompile(`(?i)(kva|kvar|demand)`)
)

// ThresholdFor selects the corruption threshold by field identity.
func ThresholdFor(field string) float64 {
	switch {
	case field == PrimaryField || energyFieldPattern.MatchString(field):
		return EnergyThresholdKWh
	case apparentFieldPattern.MatchString(field):
		return ApparentThresholdVA
	default:
		return MetadataThreshold
	}
}

// IsCorrupt reports whether a value is implausible for its field.
func IsCorrupt(value float64, field string) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return true
	}
	return math.Abs(value) > ThresholdFor(field)
}

// Sanitize repairs a corrupt value using its neighbors in timestamp order.
// A neighbor is trusted only if it independently passes the corruption test,
// so corruption never propagates between adjacent readings. The returned
// correction is nil when the value was already valid.
func Sanitize(value float64, field string, prev, next *float64, meterID string, ts time.Time) (float64, *Correction) {
	if !IsCorrupt(value, field) {
		return value, nil
	}

	prevValid := prev != nil && !IsCorrupt(*prev, field)
	nextValid := next != nil && !IsCorrupt(*next, field)

	var corrected float64
	var reason string
	switch {
	case prevValid && nextValid:
		corrected = (*prev + *next) / 2
		reason = fmt.Sprintf("value %g exceeds %s threshold %g, replaced with neighbor average", value, field, ThresholdFor(field))
	case prevValid:
		corrected = *prev
		reason = fmt.Sprintf("value %g exceeds %s threshold %g, replaced with previous reading", value, field, ThresholdFor(field))
	case nextValid:
		corrected = *next
		reason = fmt.Sprintf("value %g exceeds %s threshold %g, replaced with next reading", value, field, ThresholdFor(field))
	default:
		corrected = 0
		reason = fmt.Sprintf("value %g exceeds %s threshold %g, no valid neighbor, zeroed", value, field, ThresholdFor(field))
	}

	return corrected, &Correction{
		MeterID:   meterID,
		Field:     field,
		TS:        ts,
		Original:  value,
		Corrected: corrected,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}
