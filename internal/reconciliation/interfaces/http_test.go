package interfaces

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"meterflow/internal/aggregation"
	"meterflow/internal/auth"
	readings "meterflow/internal/readings/domain"
	reconapp "meterflow/internal/reconciliation/application"
	recon "meterflow/internal/reconciliation/domain"
)

type stubJobs struct {
	job *recon.Job
}

func (s *stubJobs) CreateJob(context.Context, *recon.Job) error { return nil }
func (s *stubJobs) Get(_ context.Context, id string) (*recon.Job, error) {
	if s.job != nil && s.job.ID == id {
		copied := *s.job
		return &copied, nil
	}
	return nil, nil
}
func (s *stubJobs) UpdateProgress(context.Context, string, string, int) error { return nil }
func (s *stubJobs) UpdateStatus(context.Context, string, string, string, *time.Time) error {
	return nil
}
func (s *stubJobs) RequestCancel(_ context.Context, id string) error {
	if s.job != nil && s.job.ID == id {
		s.job.CancelRequested = true
	}
	return nil
}
func (s *stubJobs) CancelRequested(context.Context, string) (bool, error) { return false, nil }

type stubRuns struct {
	run *recon.Run
}

func (s *stubRuns) InsertRun(context.Context, *recon.Run) error { return nil }
func (s *stubRuns) Get(_ context.Context, id string) (*recon.Run, error) {
	if s.run != nil && s.run.ID == id {
		copied := *s.run
		return &copied, nil
	}
	return nil, nil
}
func (s *stubRuns) ListByJob(_ context.Context, jobID string) ([]recon.Run, error) {
	if s.run != nil && s.run.JobID == jobID {
		return []recon.Run{*s.run}, nil
	}
	return nil, nil
}

type stubResults struct {
	results []recon.MeterResult
}

func (s *stubResults) InsertResults(context.Context, []recon.MeterResult) error { return nil }
func (s *stubResults) ListByRun(context.Context, string) ([]recon.MeterResult, error) {
	return s.results, nil
}

type stubCorrections struct {
	corrections []readings.Correction
}

func (s *stubCorrections) InsertCorrections(context.Context, string, []readings.Correction) error {
	return nil
}
func (s *stubCorrections) ListByRun(context.Context, string) ([]readings.Correction, error) {
	return s.corrections, nil
}

type noReadings struct{}

func (noReadings) FetchPage(context.Context, string, readings.Source, readings.Origin, time.Time, time.Time, int, int) ([]readings.Reading, error) {
	return nil, nil
}

func testHandler(t *testing.T, jobs *stubJobs, runs *stubRuns, results *stubResults, corrections *stubCorrections) *ReconHandler {
	t.Helper()
	logger := log.New(os.Stderr, "", 0)
	runner := reconapp.NewRunner(
		jobs, runs, results, corrections,
		nil, nil, nil, nil, nil, nil,
		aggregation.NewAggregator(noReadings{}, logger),
		logger,
		reconapp.WithPeriodDelay(0),
	)
	handler, err := NewReconHandler(runner, jobs, runs, results, corrections, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func sampleRun() *recon.Run {
	return &recon.Run{
		ID:          "run-1",
		JobID:       "job-1",
		SiteID:      "site-1",
		PeriodID:    "p1",
		PeriodLabel: "2025-03",
		DateFrom:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		DateTo:      time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Energy: recon.CategoryTotals{
			TotalSupply:       60,
			TotalDistribution: 60,
			RecoveryRatePct:   100,
		},
		MeterCount: 2,
	}
}

func sampleResults() []recon.MeterResult {
	return []recon.MeterResult{
		{
			RunID: "run-1", MeterID: "t1", MeterName: "Shop 1", MeterType: "tenant",
			Direct: recon.SourceTotals{TotalKWh: 30, ReadingsCount: 10},
		},
		{
			RunID: "run-1", MeterID: "bulk", MeterName: "Main Incomer", MeterType: "bulk", IsParent: true,
			Hierarchy: recon.SourceTotals{TotalKWh: 30, ReadingsCount: 10},
		},
	}
}

func TestHandlerStartInvalidJSON(t *testing.T) {
	handler := testHandler(t, &stubJobs{}, &stubRuns{}, &stubResults{}, &stubCorrections{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/jobs", strings.NewReader("{broken"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHandlerStartValidationError(t *testing.T) {
	handler := testHandler(t, &stubJobs{}, &stubRuns{}, &stubResults{}, &stubCorrections{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/jobs", strings.NewReader(`{"site_id":""}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing site, got %d", resp.Code)
	}
}

func TestHandlerStartOutOfScopeSite(t *testing.T) {
	handler := testHandler(t, &stubJobs{}, &stubRuns{}, &stubResults{}, &stubCorrections{})
	body := `{"site_id":"site-2","periods":[{"id":"p1","date_from":"2025-03-01T00:00:00Z","date_to":"2025-03-31T00:00:00Z"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/jobs", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), []string{"site-1"}, auth.RoleOperator, "u"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestHandlerJobStatus(t *testing.T) {
	jobs := &stubJobs{job: &recon.Job{ID: "job-1", SiteID: "site-1", Status: recon.JobStatusRunning, TotalPeriods: 3, CompletedPeriods: 1}}
	handler := testHandler(t, jobs, &stubRuns{}, &stubResults{}, &stubCorrections{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/jobs/job-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"status":"running"`) {
		t.Fatalf("expected running status in body: %s", resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/jobs/missing", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing job, got %d", resp.Code)
	}
}

func TestHandlerCancelTerminalJobConflicts(t *testing.T) {
	jobs := &stubJobs{job: &recon.Job{ID: "job-1", SiteID: "site-1", Status: recon.JobStatusComplete}}
	handler := testHandler(t, jobs, &stubRuns{}, &stubResults{}, &stubCorrections{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/jobs/job-1/cancel", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for terminal job, got %d", resp.Code)
	}
}

func TestHandlerCancelRunningJob(t *testing.T) {
	jobs := &stubJobs{job: &recon.Job{ID: "job-1", SiteID: "site-1", Status: recon.JobStatusRunning}}
	handler := testHandler(t, jobs, &stubRuns{}, &stubResults{}, &stubCorrections{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/jobs/job-1/cancel", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !jobs.job.CancelRequested {
		t.Fatal("expected cancel flag set")
	}
}

func TestHandlerRunGetAndExports(t *testing.T) {
	runs := &stubRuns{run: sampleRun()}
	results := &stubResults{results: sampleResults()}
	corrections := &stubCorrections{corrections: []readings.Correction{
		{MeterID: "t1", Field: "kwh", TS: time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC), Original: 999999, Corrected: 52, Reason: "neighbor average"},
	}}
	handler := testHandler(t, &stubJobs{}, runs, results, corrections)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/runs/run-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Main Incomer") {
		t.Fatal("expected results in run payload")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/runs/run-1/export.csv", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("expected csv export, got %d %s", resp.Code, resp.Header().Get("Content-Type"))
	}
	if !strings.Contains(resp.Body.String(), "t1") {
		t.Fatal("expected meter row in csv")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/runs/run-1/corrections.csv", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for corrections csv, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "neighbor average") {
		t.Fatal("expected correction reason in csv")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reconciliation/runs/missing/export.csv", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing run, got %d", resp.Code)
	}
}

func TestBuildRunWorkbookAndPDF(t *testing.T) {
	run := sampleRun()
	results := sampleResults()

	xlsx, err := BuildRunXLSX(run, results)
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	// XLSX files are zip archives.
	if len(xlsx) == 0 || !bytes.HasPrefix(xlsx, []byte("PK")) {
		t.Fatal("expected zip-packaged workbook")
	}

	pdf, err := BuildRunPDF(run, results)
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if len(pdf) == 0 || !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatal("expected pdf output")
	}
}

func TestBuildRunCSVColumns(t *testing.T) {
	data, err := BuildRunCSV(sampleRun(), sampleResults())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "run_id,meter_id") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	// Parent rows report the hierarchical figure as chosen.
	if !strings.Contains(lines[2], "30.000") {
		t.Fatalf("expected chosen kwh in row: %q", lines[2])
	}
}

func TestClientIPPrefersForwardedHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:4431"

	if got := clientIP(r); got != "10.0.0.9" {
		t.Fatalf("expected peer host, got %q", got)
	}

	r.Header.Set("X-Real-IP", "172.16.0.4")
	if got := clientIP(r); got != "172.16.0.4" {
		t.Fatalf("expected real-ip header, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
