package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"meterflow/internal/aggregation"
	"meterflow/internal/hierarchy"
	masterdata "meterflow/internal/masterdata/domain"
	"meterflow/internal/observability/metrics"
	readings "meterflow/internal/readings/domain"
	recon "meterflow/internal/reconciliation/domain"
	tariff "meterflow/internal/tariff/domain"
)

// Runner drives reconciliation jobs: one detached background task per job,
// periods processed sequentially, progress written to the job row.
type Runner struct {
	jobs        recon.JobRepository
	runs        recon.RunRepository
	results     recon.ResultRepository
	corrections readings.CorrectionRepository

	sites       masterdata.SiteRepository
	meters      masterdata.MeterRepository
	connections masterdata.ConnectionRepository

	tariffs   tariff.Repository
	resolver  tariff.PeriodResolver
	generator hierarchy.Generator

	aggregator *aggregation.Aggregator
	builder    *recon.Builder
	logger     *log.Logger

	periodDelay time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithPeriodDelay sets the pause between periods that keeps load off the
// backing store.
func WithPeriodDelay(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d >= 0 {
			r.periodDelay = d
		}
	}
}

// NewRunner constructs a Runner.
func NewRunner(
	jobs recon.JobRepository,
	runs recon.RunRepository,
	results recon.ResultRepository,
	corrections readings.CorrectionRepository,
	sites masterdata.SiteRepository,
	meters masterdata.MeterRepository,
	connections masterdata.ConnectionRepository,
	tariffs tariff.Repository,
	resolver tariff.PeriodResolver,
	generator hierarchy.Generator,
	aggregator *aggregation.Aggregator,
	logger *log.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		jobs:        jobs,
		runs:        runs,
		results:     results,
		corrections: corrections,
		sites:       sites,
		meters:      meters,
		connections: connections,
		tariffs:     tariffs,
		resolver:    resolver,
		generator:   generator,
		aggregator:  aggregator,
		builder:     recon.NewBuilder(logger),
		logger:      logger,
		periodDelay: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start validates the request, creates the job row, and launches the
// background task. Returns the job id immediately.
func (r *Runner) Start(ctx context.Context, req StartRequest) (string, error) {
	if r == nil {
		return "", fmt.Errorf("recon runner: nil")
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	requestJSON, _ := json.Marshal(req)
	job := &recon.Job{
		ID:             fmt.Sprintf("recon-%s-%d", req.SiteID, now.UnixNano()),
		SiteID:         req.SiteID,
		Status:         recon.JobStatusRunning,
		TotalPeriods:   len(req.Periods),
		RevenueEnabled: req.RevenueEnabled,
		RequestJSON:    requestJSON,
		CreatedAt:      now,
		StartedAt:      &now,
	}
	if err := r.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}
	metrics.IncJob(recon.JobStatusRunning)
	r.logf("recon_job_start", job.ID, req.SiteID, "", "")

	// The task outlives the triggering request on purpose; it communicates
	// only through job rows a poller can read.
	go r.run(context.Background(), job.ID, req)

	return job.ID, nil
}

// Cancel flags a running job for cooperative cancellation. The runner polls
// the flag at period boundaries.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	if r == nil || r.jobs == nil {
		return fmt.Errorf("recon runner: nil")
	}
	return r.jobs.RequestCancel(ctx, jobID)
}

func (r *Runner) run(ctx context.Context, jobID string, req StartRequest) {
	setup, err := r.loadSetup(ctx, req.SiteID)
	if err != nil {
		r.finish(ctx, jobID, recon.JobStatusFailed, fmt.Sprintf("setup: %v", err))
		r.logf("recon_job_failed", jobID, req.SiteID, "", err.Error())
		return
	}
	if setup.ordering.Revisits > 0 {
		r.logf("recon_graph_revisits", jobID, req.SiteID, "", fmt.Sprintf("revisits=%d", setup.ordering.Revisits))
	}

	var failed []string
	completed := 0
	for i, period := range req.Periods {
		cancelled, err := r.jobs.CancelRequested(ctx, jobID)
		if err == nil && cancelled {
			r.finish(ctx, jobID, recon.JobStatusCancelled, fmt.Sprintf("cancelled after %d of %d periods", completed, len(req.Periods)))
			r.logf("recon_job_cancelled", jobID, req.SiteID, period.DisplayLabel(), "")
			return
		}

		_ = r.jobs.UpdateProgress(ctx, jobID, period.DisplayLabel(), completed)

		started := time.Now().UTC()
		if err := r.processPeriod(ctx, jobID, setup, req, period); err != nil {
			failed = append(failed, period.DisplayLabel())
			metrics.ObservePeriod(metrics.ResultError, time.Since(started))
			r.logf("recon_period_failed", jobID, req.SiteID, period.DisplayLabel(), err.Error())
		} else {
			completed++
			metrics.ObservePeriod(metrics.ResultSuccess, time.Since(started))
			r.logf("recon_period_done", jobID, req.SiteID, period.DisplayLabel(), "")
		}
		_ = r.jobs.UpdateProgress(ctx, jobID, period.DisplayLabel(), completed)

		if r.periodDelay > 0 && i < len(req.Periods)-1 {
			time.Sleep(r.periodDelay)
		}
	}

	switch {
	case completed == 0 && len(failed) > 0:
		r.finish(ctx, jobID, recon.JobStatusFailed, "all periods failed: "+strings.Join(failed, ", "))
	case len(failed) > 0:
		r.finish(ctx, jobID, recon.JobStatusComplete, "failed periods: "+strings.Join(failed, ", "))
	default:
		r.finish(ctx, jobID, recon.JobStatusComplete, "")
	}
	r.logf("recon_job_done", jobID, req.SiteID, "", strings.Join(failed, ","))
}

// siteSetup is the per-job immutable topology loaded once up front.
type siteSetup struct {
	site     *masterdata.Site
	meters   []masterdata.Meter
	children map[string][]string
	leaves   []masterdata.Meter
	ordering hierarchy.Ordering
}

func (r *Runner) loadSetup(ctx context.Context, siteID string) (*siteSetup, error) {
	site, err := r.sites.Get(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}
	if site == nil {
		return nil, fmt.Errorf("site %s not found", siteID)
	}
	meters, err := r.meters.ListBySite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("load meters: %w", err)
	}
	if len(meters) == 0 {
		return nil, fmt.Errorf("site %s has no meters", siteID)
	}
	connections, err := r.connections.ListBySite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}

	children := masterdata.ChildrenByParent(connections)
	leaves, parents := hierarchy.SplitLeavesAndParents(meters, children)
	return &siteSetup{
		site:     site,
		meters:   meters,
		children: children,
		leaves:   leaves,
		ordering: hierarchy.Order(parents, children),
	}, nil
}

func (r *Runner) processPeriod(ctx context.Context, jobID string, setup *siteSetup, req StartRequest, period Period) error {
	r.generateHierarchy(ctx, jobID, setup, req, period)

	correctionLog := &readings.CorrectionLog{}
	results := make([]recon.MeterResult, 0, len(setup.meters))
	for _, meter := range setup.meters {
		isParent := hierarchy.IsParent(meter.ID, setup.children)

		direct := r.aggregateSource(ctx, meter, readings.SourceDirect, isParent, period, req.MeterConfig, correctionLog)
		hier := r.aggregateSource(ctx, meter, readings.SourceHierarchy, isParent, period, req.MeterConfig, correctionLog)

		if req.RevenueEnabled {
			r.price(ctx, setup.site, meter, period, &direct)
			r.price(ctx, setup.site, meter, period, &hier)
		}

		results = append(results, recon.MeterResult{
			MeterID:    meter.ID,
			MeterName:  meter.Name,
			MeterType:  meter.Type,
			Assignment: req.MeterConfig.AssignmentFor(meter.ID),
			IsParent:   isParent,
			Direct:     direct,
			Hierarchy:  hier,
			CreatedAt:  time.Now().UTC(),
		})
	}

	run := r.builder.BuildRun(results, req.RevenueEnabled)
	run.ID = fmt.Sprintf("%s-%s", jobID, period.ID)
	run.JobID = jobID
	run.SiteID = req.SiteID
	run.PeriodID = period.ID
	run.PeriodLabel = period.DisplayLabel()
	run.DateFrom = period.From
	run.DateTo = period.To
	run.CorrectionsCount = correctionLog.Len()
	run.CreatedAt = time.Now().UTC()

	if err := r.runs.InsertRun(ctx, &run); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	for i := range results {
		results[i].RunID = run.ID
	}
	if err := r.results.InsertResults(ctx, results); err != nil {
		return fmt.Errorf("persist results: %w", err)
	}
	if r.corrections != nil && correctionLog.Len() > 0 {
		if err := r.corrections.InsertCorrections(ctx, run.ID, correctionLog.All()); err != nil {
			return fmt.Errorf("persist corrections: %w", err)
		}
		metrics.AddCorrections(correctionLog.Len())
	}
	return nil
}

// generateHierarchy triggers the external generation step: leaves first,
// then each parent in bottom-up order. Generation errors are logged and
// non-fatal; aggregation simply sees fewer hierarchical rows.
func (r *Runner) generateHierarchy(ctx context.Context, jobID string, setup *siteSetup, req StartRequest, period Period) {
	if r.generator == nil {
		return
	}
	leafIDs := make([]string, 0, len(setup.leaves))
	for _, leaf := range setup.leaves {
		leafIDs = append(leafIDs, leaf.ID)
	}
	if len(leafIDs) > 0 {
		if _, err := r.generator.CopyLeafReadings(ctx, leafIDs, period.From, period.To, req.MeterConfig.SelectedColumns); err != nil {
			r.logf("recon_leaf_copy_error", jobID, req.SiteID, period.DisplayLabel(), err.Error())
		}
	}
	for _, parent := range setup.ordering.Parents {
		if _, err := r.generator.AggregateParent(ctx, parent.ID, setup.children[parent.ID], period.From, period.To, req.MeterConfig.SelectedColumns); err != nil {
			r.logf("recon_parent_gen_error", jobID, req.SiteID, period.DisplayLabel(), err.Error())
		}
	}
}

func (r *Runner) aggregateSource(ctx context.Context, meter masterdata.Meter, source readings.Source, isParent bool, period Period, cfg aggregation.MeterConfig, corrections *readings.CorrectionLog) recon.SourceTotals {
	totals := r.aggregator.Aggregate(ctx, meter.ID, source, isParent, period.From, period.To, cfg, corrections)
	return recon.SourceTotals{
		TotalKWh:      totals.TotalKWh,
		ColumnTotals:  totals.ColumnTotals,
		ColumnMaxima:  totals.ColumnMaxima,
		ReadingsCount: totals.ReadingsCount,
	}
}

// price resolves the meter's tariff and fills in the cost fields. Pricing
// failures zero the costs and attach the message; they never fail the period.
func (r *Runner) price(ctx context.Context, site *masterdata.Site, meter masterdata.Meter, period Period, totals *recon.SourceTotals) {
	structure, err := r.resolveTariff(ctx, site, meter, period)
	if err != nil {
		totals.PricingError = err.Error()
		return
	}

	maxDemand := aggregation.Totals{ColumnMaxima: totals.ColumnMaxima}.MaxDemand()
	cost, err := tariff.Price(structure, period.From, period.To, totals.TotalKWh, maxDemand)
	if err != nil {
		totals.PricingError = err.Error()
		return
	}
	totals.EnergyCost = cost.EnergyCost
	totals.FixedCharges = cost.FixedCharges
	totals.DemandCharges = cost.DemandCharges
	totals.TotalCost = cost.TotalCost
	totals.AvgUnitCost = cost.AvgUnitCost
}

func (r *Runner) resolveTariff(ctx context.Context, site *masterdata.Site, meter masterdata.Meter, period Period) (*tariff.Tariff, error) {
	tariffID := meter.TariffID
	if tariffID == "" {
		if meter.TariffName == "" {
			return nil, fmt.Errorf("meter %s has no tariff assignment", meter.ID)
		}
		ids, err := r.resolver.Resolve(ctx, site.SupplyAuthority, meter.TariffName, period.From, period.To)
		if err != nil {
			return nil, fmt.Errorf("resolve tariff %q: %w", meter.TariffName, err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("no tariff %q for authority %s in period", meter.TariffName, site.SupplyAuthority)
		}
		tariffID = ids[0]
	}

	structure, err := r.tariffs.Get(ctx, tariffID)
	if err != nil {
		return nil, fmt.Errorf("load tariff %s: %w", tariffID, err)
	}
	if structure == nil {
		return nil, fmt.Errorf("tariff %s not found", tariffID)
	}
	return structure, nil
}

func (r *Runner) finish(ctx context.Context, jobID, status, errMsg string) {
	ended := time.Now().UTC()
	_ = r.jobs.UpdateStatus(ctx, jobID, status, errMsg, &ended)
	metrics.IncJob(status)
}

func (r *Runner) logf(event, jobID, siteID, period, errMsg string) {
	if r.logger == nil {
		return
	}
	r.logger.Printf("event=%s job_id=%s site_id=%s period=%s error=%s", event, jobID, siteID, period, errMsg)
}
