package interfaces

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"meterflow/internal/audit"
	"meterflow/internal/auth"
	"meterflow/internal/observability/metrics"
	readings "meterflow/internal/readings/domain"
	reconapp "meterflow/internal/reconciliation/application"
	recon "meterflow/internal/reconciliation/domain"
)

// ReconHandler handles reconciliation job and run APIs.
type ReconHandler struct {
	runner      *reconapp.Runner
	jobs        recon.JobRepository
	runs        recon.RunRepository
	results     recon.ResultRepository
	corrections readings.CorrectionRepository
	auditLogger audit.Logger
}

// NewReconHandler constructs a handler.
func NewReconHandler(
	runner *reconapp.Runner,
	jobs recon.JobRepository,
	runs recon.RunRepository,
	results recon.ResultRepository,
	corrections readings.CorrectionRepository,
	auditLogger audit.Logger,
) (*ReconHandler, error) {
	if runner == nil {
		return nil, errors.New("recon handler: nil runner")
	}
	if jobs == nil || runs == nil || results == nil {
		return nil, errors.New("recon handler: nil repository")
	}
	return &ReconHandler{
		runner:      runner,
		jobs:        jobs,
		runs:        runs,
		results:     results,
		corrections: corrections,
		auditLogger: auditLogger,
	}, nil
}

// ServeHTTP handles routes under /api/v1/reconciliation.
func (h *ReconHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/api/v1/reconciliation/jobs" && r.Method == http.MethodPost {
		h.handleStart(w, r)
		return
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/reconciliation/jobs/"); ok {
		h.handleJob(w, r, rest)
		return
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/reconciliation/runs/"); ok {
		h.handleRun(w, r, rest)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *ReconHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req reconapp.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := auth.EnsureSiteScope(r.Context(), req.SiteID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	jobID, err := h.runner.Start(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"job_id": jobID,
		"status": recon.JobStatusRunning,
	})
	h.logAudit(r, req.SiteID, jobID, "recon.start", map[string]any{
		"periods":         len(req.Periods),
		"revenue_enabled": req.RevenueEnabled,
	})
}

func (h *ReconHandler) handleJob(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 1 && r.Method == http.MethodGet {
		h.handleJobStatus(w, r, id)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "cancel":
			if r.Method == http.MethodPost {
				h.handleCancel(w, r, id)
				return
			}
		case "runs":
			if r.Method == http.MethodGet {
				h.handleJobRuns(w, r, id)
				return
			}
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *ReconHandler) handleJobStatus(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.loadJob(w, r, id)
	if job == nil || err != nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"job_id":            job.ID,
		"site_id":           job.SiteID,
		"status":            job.Status,
		"total_periods":     job.TotalPeriods,
		"completed_periods": job.CompletedPeriods,
		"current_period":    job.CurrentPeriod,
		"cancel_requested":  job.CancelRequested,
		"revenue_enabled":   job.RevenueEnabled,
		"error":             job.Error,
		"started_at":        job.StartedAt,
		"ended_at":          job.EndedAt,
	})
}

func (h *ReconHandler) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.loadJob(w, r, id)
	if job == nil || err != nil {
		return
	}
	if job.Status != recon.JobStatusRunning {
		http.Error(w, "job not running", http.StatusConflict)
		return
	}
	if err := h.runner.Cancel(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"job_id":           id,
		"cancel_requested": true,
	})
	h.logAudit(r, job.SiteID, id, "recon.cancel", nil)
}

func (h *ReconHandler) handleJobRuns(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.loadJob(w, r, id)
	if job == nil || err != nil {
		return
	}
	runs, err := h.runs.ListByJob(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"job_id": id,
		"runs":   runs,
	})
}

func (h *ReconHandler) handleRun(w http.ResponseWriter, r *http.Request, rest string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 1 {
		h.handleRunGet(w, r, id)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "export.xlsx":
			h.handleExport(w, r, id, "xlsx")
			return
		case "export.pdf":
			h.handleExport(w, r, id, "pdf")
			return
		case "export.csv":
			h.handleExport(w, r, id, "csv")
			return
		case "corrections.csv":
			h.handleCorrectionsCSV(w, r, id)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *ReconHandler) handleRunGet(w http.ResponseWriter, r *http.Request, id string) {
	run, results, ok := h.loadRun(w, r, id)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Run     *recon.Run          `json:"run"`
		Results []recon.MeterResult `json:"results"`
	}{Run: run, Results: results})
}

func (h *ReconHandler) handleExport(w http.ResponseWriter, r *http.Request, id, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(format, result, time.Since(start))
	}()

	run, results, ok := h.loadRun(w, r, id)
	if !ok {
		result = metrics.ResultError
		return
	}

	var data []byte
	var contentType string
	var err error
	switch format {
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		data, err = BuildRunXLSX(run, results)
	case "pdf":
		contentType = "application/pdf"
		data, err = BuildRunPDF(run, results)
	default:
		contentType = "text/csv"
		data, err = BuildRunCSV(run, results)
	}
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, run.SiteID, run.ID, "recon.export", map[string]any{"format": format})
}

func (h *ReconHandler) handleCorrectionsCSV(w http.ResponseWriter, r *http.Request, id string) {
	run, _, ok := h.loadRun(w, r, id)
	if !ok {
		return
	}
	var corrections []readings.Correction
	if h.corrections != nil {
		var err error
		corrections, err = h.corrections.ListByRun(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	data, err := BuildCorrectionsCSV(run.ID, corrections)
	if err != nil {
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *ReconHandler) logAudit(r *http.Request, siteID, resourceID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	var payload []byte
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "reconciliation",
		ResourceID:   resourceID,
		SiteID:       siteID,
		Metadata:     payload,
		IP:           clientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

// clientIP prefers the proxy-forwarded address and falls back to the peer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *ReconHandler) loadJob(w http.ResponseWriter, r *http.Request, id string) (*recon.Job, error) {
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, err
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return nil, nil
	}
	if err := auth.EnsureSiteScope(r.Context(), job.SiteID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, err
	}
	return job, nil
}

func (h *ReconHandler) loadRun(w http.ResponseWriter, r *http.Request, id string) (*recon.Run, []recon.MeterResult, bool) {
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, nil, false
	}
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return nil, nil, false
	}
	if err := auth.EnsureSiteScope(r.Context(), run.SiteID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, nil, false
	}
	results, err := h.results.ListByRun(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, nil, false
	}
	return run, results, true
}
