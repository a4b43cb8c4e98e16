package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "meterflow_"

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	jobsTotal        *prometheus.CounterVec
	periodsTotal     *prometheus.CounterVec
	periodLatency    *prometheus.HistogramVec
	correctionsTotal prometheus.Counter
	exportLatency    *prometheus.HistogramVec
)

// Init registers reconciliation metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		jobsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recon_jobs_total",
				Help: "Total reconciliation jobs by status transition",
			},
			[]string{"status"},
		)
		periodsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recon_periods_total",
				Help: "Total reconciled periods by result",
			},
			[]string{"result"},
		)
		periodLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "recon_period_latency_seconds",
				Help:    "Period reconciliation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		correctionsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "recon_corrections_total",
				Help: "Total reading corrections emitted by the sanitizer",
			},
		)

		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "recon_export_latency_seconds",
				Help:    "Run export latency in seconds by format",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			jobsTotal,
			periodsTotal,
			periodLatency,
			correctionsTotal,
			exportLatency,
		)
	})
}

// IncJob counts a job status transition.
func IncJob(status string) {
	if status == "" {
		status = "unknown"
	}
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// ObservePeriod records a period's result and latency.
func ObservePeriod(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if periodsTotal != nil {
		periodsTotal.WithLabelValues(result).Inc()
	}
	if periodLatency != nil {
		periodLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveExport records a run export's result and latency.
func ObserveExport(format, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// AddCorrections counts sanitizer corrections.
func AddCorrections(count int) {
	if count <= 0 {
		return
	}
	if correctionsTotal != nil {
		correctionsTotal.Add(float64(count))
	}
}
