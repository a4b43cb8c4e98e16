package reconciliation

import (
	"log"
	"math"

	masterdata "meterflow/internal/masterdata/domain"
)

// Category buckets a meter on the supply/distribution axis.
type Category string

const (
	CategoryGridSupply   Category = "grid_supply"
	CategoryBulk         Category = "bulk"
	CategorySolar        Category = "solar"
	CategoryCheck        Category = "check"
	CategoryTenant       Category = "tenant"
	CategoryDistribution Category = "distribution"
	CategoryOther        Category = "other"
	CategoryUnassigned   Category = "unassigned"
)

// maxPlausibleTotal bounds a single meter's contribution to site totals; a
// larger accumulated value is dropped rather than poisoning the site figures.
const maxPlausibleTotal = 1e9

// recoveryRateCap bounds the reported recovery percentage.
const recoveryRateCap = 1000

// Classify buckets a meter by assignment label first, meter type second.
func Classify(assignment string, meterType masterdata.MeterType) Category {
	switch Category(assignment) {
	case CategoryGridSupply, CategoryBulk, CategorySolar, CategoryCheck,
		CategoryTenant, CategoryDistribution, CategoryOther:
		return Category(assignment)
	}
	switch meterType {
	case masterdata.MeterTypeCouncil:
		return CategoryGridSupply
	case masterdata.MeterTypeBulk:
		return CategoryBulk
	case masterdata.MeterTypeSolar:
		return CategorySolar
	case masterdata.MeterTypeCheck:
		return CategoryCheck
	case masterdata.MeterTypeTenant:
		return CategoryTenant
	case masterdata.MeterTypeDistribution:
		return CategoryDistribution
	case masterdata.MeterTypeOther:
		return CategoryOther
	}
	return CategoryUnassigned
}

// Builder assembles run summaries from meter results.
type Builder struct {
	logger *log.Logger
}

// NewBuilder constructs a builder.
func NewBuilder(logger *log.Logger) *Builder {
	return &Builder{logger: logger}
}

// BuildRun rolls meter results into the site-wide supply/distribution
// reconciliation for the period. Each meter contributes its chosen view
// (hierarchical for parents, direct for leaves) to exactly one bucket.
func (b *Builder) BuildRun(results []MeterResult, revenueEnabled bool) Run {
	run := Run{RevenueEnabled: revenueEnabled, MeterCount: len(results)}

	var pricedCost, pricedKWh float64
	for _, result := range results {
		chosen := result.Chosen()
		category := Classify(result.Assignment, result.MeterType)

		b.addGuarded(&run.Energy, category, chosen.TotalKWh, result.MeterID, "kwh")
		if revenueEnabled {
			b.addGuarded(&run.Money, category, chosen.TotalCost, result.MeterID, "cost")
			if plausible(chosen.TotalCost) && plausible(chosen.TotalKWh) {
				pricedCost += chosen.TotalCost
				pricedKWh += chosen.TotalKWh
			}
		}
	}

	deriveAxis(&run.Energy)
	if revenueEnabled {
		deriveAxis(&run.Money)
		if pricedKWh > 0 {
			if avg := pricedCost / pricedKWh; !math.IsNaN(avg) && !math.IsInf(avg, 0) {
				run.AvgCostPerKWh = avg
			}
		}
	}
	return run
}

// addGuarded folds a per-meter total into a category, dropping implausible
// values so one corrupted meter cannot poison a site-wide total.
func (b *Builder) addGuarded(totals *CategoryTotals, category Category, value float64, meterID, axis string) {
	if !plausible(value) {
		if b != nil && b.logger != nil {
			b.logger.Printf("event=recon_total_dropped meter_id=%s axis=%s category=%s value=%g", meterID, axis, category, value)
		}
		return
	}
	switch category {
	case CategoryGridSupply:
		totals.GridSupply += value
	case CategoryBulk:
		totals.Bulk += value
	case CategorySolar:
		totals.Solar += value
	case CategoryCheck:
		totals.Check += value
	case CategoryTenant:
		totals.Tenant += value
	case CategoryDistribution:
		totals.Distribution += value
	case CategoryOther:
		totals.Other += value
	default:
		totals.Unassigned += value
	}
}

// deriveAxis computes the supply/distribution roll-up for one axis.
// Negative solar (export) never reduces supply.
func deriveAxis(totals *CategoryTotals) {
	solar := totals.Solar
	if solar < 0 {
		solar = 0
	}
	totals.TotalSupply = totals.GridSupply + solar
	totals.TotalDistribution = totals.Bulk + totals.Tenant + totals.Check
	totals.Discrepancy = totals.TotalSupply - totals.TotalDistribution
	totals.RecoveryRatePct = recoveryRate(totals.Tenant, totals.TotalSupply)
}

// recoveryRate is tenant over supply as a clamped percentage; zero when
// supply is zero or the ratio is non-finite.
func recoveryRate(tenant, supply float64) float64 {
	if supply == 0 {
		return 0
	}
	rate := tenant / supply * 100
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	if rate < 0 {
		return 0
	}
	if rate > recoveryRateCap {
		return recoveryRateCap
	}
	return rate
}

func plausible(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && math.Abs(value) <= maxPlausibleTotal
}
