package tariff

import (
	"errors"
	"sort"
	"time"
)

// Cost is the monetary outcome of pricing one meter for one period.
type Cost struct {
	EnergyCost    float64
	FixedCharges  float64
	DemandCharges float64
	TotalCost     float64
	AvgUnitCost   float64
}

// ErrNoEnergyCharge is returned when a tariff defines neither blocks nor an
// energy charge line item.
var ErrNoEnergyCharge = errors.New("tariff: no energy charge defined")

// Price computes the full cost of totalKWh consumed over the half-open
// window [from, to) under a tariff: progressive or flat/seasonal energy,
// calendar-prorated basic charges, and seasonal demand charges when maxDemand
// is positive. The same window bounds the reading scans, so `to` is never
// billed or read.
func Price(t *Tariff, from, to time.Time, totalKWh, maxDemand float64) (Cost, error) {
	if t == nil {
		return Cost{}, errors.New("tariff: nil tariff")
	}
	energy, err := EnergyCost(t, from, to, totalKWh)
	if err != nil {
		return Cost{}, err
	}
	fixed := FixedCharges(t, from, to)
	demand := DemandCharges(t, from, to, maxDemand)

	total := energy + fixed + demand
	avg := 0.0
	if totalKWh > 0 {
		avg = total / totalKWh
	}
	return Cost{
		EnergyCost:    energy,
		FixedCharges:  fixed,
		DemandCharges: demand,
		TotalCost:     total,
		AvgUnitCost:   avg,
	}, nil
}

// EnergyCost prices totalKWh. Priority: progressive blocks, then a flat
// combined-season rate, then the seasonal flat rate for the window.
func EnergyCost(t *Tariff, from, to time.Time, totalKWh float64) (float64, error) {
	if len(t.Blocks) > 0 {
		return blockCost(t.Blocks, totalKWh), nil
	}
	if charge, ok := findEnergyCharge(t, SeasonAll); ok {
		return totalKWh * charge.Amount / 100, nil
	}
	rate, ok := seasonalEnergyRate(t, from, to)
	if !ok {
		return 0, ErrNoEnergyCharge
	}
	return totalKWh * rate / 100, nil
}

// blockCost consumes quantity against ordered blocks, costing each consumed
// slice at that block's rate.
func blockCost(blocks []Block, totalKWh float64) float64 {
	ordered := make([]Block, len(blocks))
	copy(ordered, blocks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	cost := 0.0
	remaining := totalKWh
	for _, block := range ordered {
		if remaining <= 0 {
			break
		}
		capacity := remaining
		if block.ToKWh != nil {
			capacity = *block.ToKWh - block.FromKWh
		}
		consumed := remaining
		if consumed > capacity {
			consumed = capacity
		}
		cost += consumed * block.RateCents / 100
		remaining -= consumed
	}
	return cost
}

// seasonalEnergyRate picks the high-season rate only when both window
// endpoints fall in high-demand months, otherwise the low-season rate,
// falling back to whichever season is defined.
func seasonalEnergyRate(t *Tariff, from, to time.Time) (float64, bool) {
	high, hasHigh := findEnergyCharge(t, SeasonHigh)
	low, hasLow := findEnergyCharge(t, SeasonLow)
	if !hasHigh && !hasLow {
		return 0, false
	}
	wantHigh := t.IsHighMonth(from.Month()) && t.IsHighMonth(lastIncluded(from, to).Month())
	if wantHigh {
		if hasHigh {
			return high.Amount, true
		}
		return low.Amount, true
	}
	if hasLow {
		return low.Amount, true
	}
	return high.Amount, true
}

func findEnergyCharge(t *Tariff, season Season) (Charge, bool) {
	for _, charge := range t.Charges {
		if charge.Type == ChargeEnergy && charge.Season == season {
			return charge, true
		}
	}
	return Charge{}, false
}

// FixedCharges sums all basic monthly charges prorated across the billing
// window: each overlapped calendar month contributes
// monthly amount x overlapped days / days in that month.
func FixedCharges(t *Tariff, from, to time.Time) float64 {
	monthly := 0.0
	for _, charge := range t.Charges {
		if charge.Type == ChargeBasicMonthly {
			monthly += charge.Amount
		}
	}
	if monthly == 0 {
		return 0
	}
	return Prorate(monthly, from, to)
}

// Prorate walks month by month across the half-open window [from, to) at day
// granularity, accumulating the charge share of each overlapped calendar
// month. A whole month (first of month to first of the next) prorates to
// exactly the monthly amount.
func Prorate(monthlyAmount float64, from, to time.Time) float64 {
	from = dateOnly(from)
	to = dateOnly(to)
	if !to.After(from) {
		return 0
	}

	total := 0.0
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for cursor.Before(to) {
		nextMonth := cursor.AddDate(0, 1, 0)
		daysInMonth := int(nextMonth.Sub(cursor).Hours() / 24)

		start := cursor
		if from.After(start) {
			start = from
		}
		end := nextMonth
		if to.Before(end) {
			end = to
		}
		if overlapDays := int(end.Sub(start).Hours() / 24); overlapDays > 0 {
			total += monthlyAmount * float64(overlapDays) / float64(daysInMonth)
		}
		cursor = nextMonth
	}
	return total
}

// DemandCharges prices peak demand: the seasonal demand line item (high when
// the window overlaps any high-demand month) times maxDemand. Zero when no
// positive demand was observed.
func DemandCharges(t *Tariff, from, to time.Time, maxDemand float64) float64 {
	if maxDemand <= 0 {
		return 0
	}
	high, hasHigh := findDemandCharge(t, SeasonHigh)
	low, hasLow := findDemandCharge(t, SeasonLow)
	if !hasHigh && !hasLow {
		return 0
	}
	if windowOverlapsHighSeason(t, from, to) {
		if hasHigh {
			return maxDemand * high.Amount
		}
		return maxDemand * low.Amount
	}
	if hasLow {
		return maxDemand * low.Amount
	}
	return maxDemand * high.Amount
}

func findDemandCharge(t *Tariff, season Season) (Charge, bool) {
	for _, charge := range t.Charges {
		if charge.Type == ChargeDemand && charge.Season == season {
			return charge, true
		}
	}
	return Charge{}, false
}

func windowOverlapsHighSeason(t *Tariff, from, to time.Time) bool {
	end := lastIncluded(from, to)
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(end) {
		if t.IsHighMonth(cursor.Month()) {
			return true
		}
		cursor = cursor.AddDate(0, 1, 0)
	}
	return false
}

func dateOnly(v time.Time) time.Time {
	return time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
}

// lastIncluded is the final instant covered by [from, to); season selection
// keys off its month so an exclusive first-of-next-month bound never drags
// the next month's season into the window.
func lastIncluded(from, to time.Time) time.Time {
	if to.After(from) {
		return to.Add(-time.Nanosecond)
	}
	return from
}
