package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"meterflow/internal/aggregation"
	masterdata "meterflow/internal/masterdata/domain"
	readings "meterflow/internal/readings/domain"
	recon "meterflow/internal/reconciliation/domain"
	tariff "meterflow/internal/tariff/domain"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*recon.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*recon.Job)}
}

func (m *memJobs) CreateJob(_ context.Context, job *recon.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobs) Get(_ context.Context, id string) (*recon.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (m *memJobs) UpdateProgress(_ context.Context, id, currentPeriod string, completed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.CurrentPeriod = currentPeriod
		job.CompletedPeriods = completed
	}
	return nil
}

func (m *memJobs) UpdateStatus(_ context.Context, id, status, errMsg string, endedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.Status = status
		job.Error = errMsg
		job.EndedAt = endedAt
	}
	return nil
}

func (m *memJobs) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.CancelRequested = true
	}
	return nil
}

func (m *memJobs) CancelRequested(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		return job.CancelRequested, nil
	}
	return false, nil
}

type memRuns struct {
	mu     sync.Mutex
	runs   []recon.Run
	failOn string
}

func (m *memRuns) InsertRun(_ context.Context, run *recon.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && run.PeriodID == m.failOn {
		return errors.New("insert run refused")
	}
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memRuns) Get(_ context.Context, id string) (*recon.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == id {
			copied := m.runs[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memRuns) ListByJob(_ context.Context, jobID string) ([]recon.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recon.Run
	for _, run := range m.runs {
		if run.JobID == jobID {
			out = append(out, run)
		}
	}
	return out, nil
}

type memResults struct {
	mu      sync.Mutex
	results []recon.MeterResult
}

func (m *memResults) InsertResults(_ context.Context, results []recon.MeterResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
	return nil
}

func (m *memResults) ListByRun(_ context.Context, runID string) ([]recon.MeterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recon.MeterResult
	for _, result := range m.results {
		if result.RunID == runID {
			out = append(out, result)
		}
	}
	return out, nil
}

type memCorrections struct {
	mu    sync.Mutex
	byRun map[string][]readings.Correction
}

func (m *memCorrections) InsertCorrections(_ context.Context, runID string, corrections []readings.Correction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byRun == nil {
		m.byRun = make(map[string][]readings.Correction)
	}
	m.byRun[runID] = append(m.byRun[runID], corrections...)
	return nil
}

func (m *memCorrections) ListByRun(_ context.Context, runID string) ([]readings.Correction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byRun[runID], nil
}

type stubSites struct{ site *masterdata.Site }

func (s stubSites) Get(_ context.Context, _ string) (*masterdata.Site, error) {
	return s.site, nil
}

type stubMeters struct{ meters []masterdata.Meter }

func (s stubMeters) Get(_ context.Context, id string) (*masterdata.Meter, error) {
	for i := range s.meters {
		if s.meters[i].ID == id {
			return &s.meters[i], nil
		}
	}
	return nil, nil
}

func (s stubMeters) ListBySite(_ context.Context, _ string) ([]masterdata.Meter, error) {
	return s.meters, nil
}

type stubConnections struct{ connections []masterdata.Connection }

func (s stubConnections) ListBySite(_ context.Context, _ string) ([]masterdata.Connection, error) {
	return s.connections, nil
}

type stubTariffs struct{ tariffs map[string]*tariff.Tariff }

func (s stubTariffs) Get(_ context.Context, id string) (*tariff.Tariff, error) {
	return s.tariffs[id], nil
}

type stubResolver struct{ ids []string }

func (s stubResolver) Resolve(_ context.Context, _, _ string, _, _ time.Time) ([]string, error) {
	return s.ids, nil
}

type genCall struct {
	parentID string
	childIDs []string
}

type stubGenerator struct {
	mu        sync.Mutex
	leafCalls [][]string
	parents   []genCall
	err       error
}

func (s *stubGenerator) CopyLeafReadings(_ context.Context, meterIDs []string, _, _ time.Time, _ []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leafCalls = append(s.leafCalls, meterIDs)
	return len(meterIDs), s.err
}

func (s *stubGenerator) AggregateParent(_ context.Context, parentID string, childIDs []string, _, _ time.Time, _ []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parents = append(s.parents, genCall{parentID: parentID, childIDs: childIDs})
	return len(childIDs), s.err
}

// stubReadings serves fixed readings keyed by meter and source.
type stubReadings struct {
	rows map[string]map[readings.Source][]readings.Reading
}

func (s *stubReadings) FetchPage(_ context.Context, meterID string, source readings.Source, _ readings.Origin, _, _ time.Time, offset, limit int) ([]readings.Reading, error) {
	rows := s.rows[meterID][source]
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func directRows(meterID string, values ...float64) []readings.Reading {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]readings.Reading, 0, len(values))
	for i, v := range values {
		rows = append(rows, readings.Reading{
			MeterID:    meterID,
			TS:         base.Add(time.Duration(i) * time.Hour),
			PrimaryKWh: v,
			Source:     readings.SourceDirect,
		})
	}
	return rows
}

type harness struct {
	runner      *Runner
	jobs        *memJobs
	runs        *memRuns
	results     *memResults
	corrections *memCorrections
	generator   *stubGenerator
}

func newHarness(t *testing.T, meters []masterdata.Meter, connections []masterdata.Connection, rows map[string]map[readings.Source][]readings.Reading, tariffs map[string]*tariff.Tariff) *harness {
	t.Helper()
	logger := log.New(os.Stderr, "", 0)
	h := &harness{
		jobs:        newMemJobs(),
		runs:        &memRuns{},
		results:     &memResults{},
		corrections: &memCorrections{},
		generator:   &stubGenerator{},
	}
	aggregator := aggregation.NewAggregator(&stubReadings{rows: rows}, logger)
	h.runner = NewRunner(
		h.jobs, h.runs, h.results, h.corrections,
		stubSites{site: &masterdata.Site{ID: "site-1", Name: "Test Site", SupplyAuthority: "city-power"}},
		stubMeters{meters: meters},
		stubConnections{connections: connections},
		stubTariffs{tariffs: tariffs},
		stubResolver{},
		h.generator,
		aggregator,
		logger,
		WithPeriodDelay(0),
	)
	return h
}

func (h *harness) waitTerminal(t *testing.T, jobID string) *recon.Job {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		job, _ := h.jobs.Get(context.Background(), jobID)
		if job != nil && job.Status != recon.JobStatusRunning {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for job %s to finish", jobID)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func marchPeriod(id string) Period {
	return Period{
		ID:    id,
		Label: "2025-03",
		From:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:    time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunnerHappyPath(t *testing.T) {
	meters := []masterdata.Meter{
		{ID: "grid", SiteID: "site-1", Type: masterdata.MeterTypeCouncil},
		{ID: "bulk", SiteID: "site-1", Type: masterdata.MeterTypeBulk},
		{ID: "t1", SiteID: "site-1", Type: masterdata.MeterTypeTenant},
		{ID: "t2", SiteID: "site-1", Type: masterdata.MeterTypeTenant},
	}
	connections := []masterdata.Connection{
		{SiteID: "site-1", ParentID: "bulk", ChildID: "t1"},
		{SiteID: "site-1", ParentID: "bulk", ChildID: "t2"},
	}
	rows := map[string]map[readings.Source][]readings.Reading{
		"grid": {readings.SourceDirect: directRows("grid", 30, 30)},
		"t1":   {readings.SourceDirect: directRows("t1", 10, 10)},
		"t2":   {readings.SourceDirect: directRows("t2", 20, 20)},
		"bulk": {readings.SourceHierarchy: directRows("bulk", 30, 30)},
	}

	h := newHarness(t, meters, connections, rows, nil)
	jobID, err := h.runner.Start(context.Background(), StartRequest{
		SiteID:  "site-1",
		Periods: []Period{marchPeriod("p1")},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	job := h.waitTerminal(t, jobID)
	if job.Status != recon.JobStatusComplete {
		t.Fatalf("expected complete, got %s (%s)", job.Status, job.Error)
	}
	if job.Error != "" {
		t.Fatalf("expected clean run, got error %q", job.Error)
	}
	if job.CompletedPeriods != 1 {
		t.Fatalf("expected 1 completed period, got %d", job.CompletedPeriods)
	}

	runs, _ := h.runs.ListByJob(context.Background(), jobID)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Energy.TotalSupply != 60 {
		t.Fatalf("expected supply 60, got %g", run.Energy.TotalSupply)
	}
	if run.Energy.Tenant != 60 {
		t.Fatalf("expected tenant 60, got %g", run.Energy.Tenant)
	}
	if run.Energy.RecoveryRatePct != 100 {
		t.Fatalf("expected recovery 100, got %g", run.Energy.RecoveryRatePct)
	}

	results, _ := h.results.ListByRun(context.Background(), run.ID)
	if len(results) != 4 {
		t.Fatalf("expected 4 meter results, got %d", len(results))
	}
	for _, result := range results {
		if result.MeterID == "bulk" {
			if !result.IsParent {
				t.Fatal("bulk should be a parent")
			}
			if result.Chosen().TotalKWh != 60 {
				t.Fatalf("parent chosen view should be hierarchical, got %g", result.Chosen().TotalKWh)
			}
		}
	}

	// Generation ran leaves first, then the parent with its children.
	if len(h.generator.leafCalls) != 1 || len(h.generator.leafCalls[0]) != 3 {
		t.Fatalf("expected one leaf copy call for 3 leaves, got %v", h.generator.leafCalls)
	}
	if len(h.generator.parents) != 1 || h.generator.parents[0].parentID != "bulk" {
		t.Fatalf("expected parent generation for bulk, got %v", h.generator.parents)
	}
	if len(h.generator.parents[0].childIDs) != 2 {
		t.Fatalf("expected 2 child ids, got %v", h.generator.parents[0].childIDs)
	}
}

func TestRunnerRevenuePricing(t *testing.T) {
	hundred := 100.0
	tariffs := map[string]*tariff.Tariff{
		"t-block": {
			ID: "t-block",
			Blocks: []tariff.Block{
				{Number: 1, FromKWh: 0, ToKWh: &hundred, RateCents: 100},
				{Number: 2, FromKWh: 100, RateCents: 80},
			},
		},
	}
	meters := []masterdata.Meter{
		{ID: "t1", SiteID: "site-1", Type: masterdata.MeterTypeTenant, TariffID: "t-block"},
		{ID: "grid", SiteID: "site-1", Type: masterdata.MeterTypeCouncil},
	}
	rows := map[string]map[readings.Source][]readings.Reading{
		"t1":   {readings.SourceDirect: directRows("t1", 75, 75)},
		"grid": {readings.SourceDirect: directRows("grid", 75, 75)},
	}

	h := newHarness(t, meters, nil, rows, tariffs)
	jobID, err := h.runner.Start(context.Background(), StartRequest{
		SiteID:         "site-1",
		Periods:        []Period{marchPeriod("p1")},
		RevenueEnabled: true,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := h.waitTerminal(t, jobID)
	if job.Status != recon.JobStatusComplete {
		t.Fatalf("expected complete, got %s (%s)", job.Status, job.Error)
	}

	runs, _ := h.runs.ListByJob(context.Background(), jobID)
	results, _ := h.results.ListByRun(context.Background(), runs[0].ID)
	for _, result := range results {
		switch result.MeterID {
		case "t1":
			// 150 kWh on the block tariff: 100x1.00 + 50x0.80 = 140.00
			if result.Direct.TotalCost != 140 {
				t.Fatalf("expected t1 cost 140, got %g", result.Direct.TotalCost)
			}
			if result.Direct.PricingError != "" {
				t.Fatalf("unexpected pricing error: %s", result.Direct.PricingError)
			}
		case "grid":
			// No tariff assignment: zeroed costs plus an error message.
			if result.Direct.TotalCost != 0 {
				t.Fatalf("expected zero cost for unpriced meter, got %g", result.Direct.TotalCost)
			}
			if result.Direct.PricingError == "" {
				t.Fatal("expected pricing error for meter without tariff")
			}
		}
	}
	if runs[0].Money.Tenant != 140 {
		t.Fatalf("expected tenant money 140, got %g", runs[0].Money.Tenant)
	}
}

func TestRunnerPartialFailureCompletesWithError(t *testing.T) {
	meters := []masterdata.Meter{{ID: "t1", SiteID: "site-1", Type: masterdata.MeterTypeTenant}}
	rows := map[string]map[readings.Source][]readings.Reading{
		"t1": {readings.SourceDirect: directRows("t1", 1)},
	}
	h := newHarness(t, meters, nil, rows, nil)
	h.runs.failOn = "p2"

	jobID, err := h.runner.Start(context.Background(), StartRequest{
		SiteID:  "site-1",
		Periods: []Period{marchPeriod("p1"), {ID: "p2", Label: "2025-04", From: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)}},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := h.waitTerminal(t, jobID)
	if job.Status != recon.JobStatusComplete {
		t.Fatalf("expected complete with partial failure, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "2025-04") {
		t.Fatalf("expected failed period name in error, got %q", job.Error)
	}
	if job.CompletedPeriods != 1 {
		t.Fatalf("expected 1 completed period, got %d", job.CompletedPeriods)
	}
}

func TestRunnerAllPeriodsFailedReportsFailed(t *testing.T) {
	meters := []masterdata.Meter{{ID: "t1", SiteID: "site-1", Type: masterdata.MeterTypeTenant}}
	rows := map[string]map[readings.Source][]readings.Reading{
		"t1": {readings.SourceDirect: directRows("t1", 1)},
	}
	h := newHarness(t, meters, nil, rows, nil)
	h.runs.failOn = "p1"

	jobID, err := h.runner.Start(context.Background(), StartRequest{
		SiteID:  "site-1",
		Periods: []Period{marchPeriod("p1")},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := h.waitTerminal(t, jobID)
	if job.Status != recon.JobStatusFailed {
		t.Fatalf("expected failed when every period errored, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "all periods failed") {
		t.Fatalf("expected aggregate failure message, got %q", job.Error)
	}
}

func TestRunnerSetupFailureAborts(t *testing.T) {
	logger := log.New(os.Stderr, "", 0)
	h := &harness{jobs: newMemJobs(), runs: &memRuns{}, results: &memResults{}, corrections: &memCorrections{}, generator: &stubGenerator{}}
	aggregator := aggregation.NewAggregator(&stubReadings{}, logger)
	h.runner = NewRunner(
		h.jobs, h.runs, h.results, h.corrections,
		stubSites{site: nil}, // site lookup returns nothing
		stubMeters{}, stubConnections{}, stubTariffs{}, stubResolver{}, h.generator,
		aggregator, logger, WithPeriodDelay(0),
	)

	jobID, err := h.runner.Start(context.Background(), StartRequest{
		SiteID:  "missing",
		Periods: []Period{marchPeriod("p1")},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := h.waitTerminal(t, jobID)
	if job.Status != recon.JobStatusFailed {
		t.Fatalf("expected failed on setup error, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "setup") {
		t.Fatalf("expected setup error message, got %q", job.Error)
	}
	if runs, _ := h.runs.ListByJob(context.Background(), jobID); len(runs) != 0 {
		t.Fatalf("expected no runs persisted, got %d", len(runs))
	}
}

func TestRunnerCancellation(t *testing.T) {
	meters := []masterdata.Meter{{ID: "t1", SiteID: "site-1", Type: masterdata.MeterTypeTenant}}
	rows := map[string]map[readings.Source][]readings.Reading{
		"t1": {readings.SourceDirect: directRows("t1", 1)},
	}
	h := newHarness(t, meters, nil, rows, nil)

	periods := make([]Period, 0, 50)
	for i := 0; i < 50; i++ {
		periods = append(periods, marchPeriod(fmt.Sprintf("p%d", i)))
	}
	// Slow the loop so the cancel request lands mid-job.
	WithPeriodDelay(20 * time.Millisecond)(h.runner)

	jobID, err := h.runner.Start(context.Background(), StartRequest{SiteID: "site-1", Periods: periods})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := h.runner.Cancel(context.Background(), jobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	job := h.waitTerminal(t, jobID)
	if job.Status != recon.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s (%s)", job.Status, job.Error)
	}
	if job.CompletedPeriods >= len(periods) {
		t.Fatal("expected early stop before all periods completed")
	}
}

func TestRunnerEmitsCorrections(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	corrupt := []readings.Reading{
		{MeterID: "t1", TS: base, PrimaryKWh: 50},
		{MeterID: "t1", TS: base.Add(time.Hour), PrimaryKWh: 999999},
		{MeterID: "t1", TS: base.Add(2 * time.Hour), PrimaryKWh: 54},
	}
	meters := []masterdata.Meter{{ID: "t1", SiteID: "site-1", Type: masterdata.MeterTypeTenant}}
	rows := map[string]map[readings.Source][]readings.Reading{
		"t1": {readings.SourceDirect: corrupt},
	}
	h := newHarness(t, meters, nil, rows, nil)

	jobID, err := h.runner.Start(context.Background(), StartRequest{
		SiteID:  "site-1",
		Periods: []Period{marchPeriod("p1")},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := h.waitTerminal(t, jobID)
	if job.Status != recon.JobStatusComplete {
		t.Fatalf("expected complete, got %s", job.Status)
	}

	runs, _ := h.runs.ListByJob(context.Background(), jobID)
	if runs[0].CorrectionsCount != 1 {
		t.Fatalf("expected 1 correction counted, got %d", runs[0].CorrectionsCount)
	}
	stored, _ := h.corrections.ListByRun(context.Background(), runs[0].ID)
	if len(stored) != 1 || stored[0].Corrected != 52 {
		t.Fatalf("expected stored correction to 52, got %v", stored)
	}
	// The repaired value flows into the tenant total.
	if runs[0].Energy.Tenant != 50+52+54 {
		t.Fatalf("expected repaired tenant total 156, got %g", runs[0].Energy.Tenant)
	}
}
