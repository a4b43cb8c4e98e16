package main

import (
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"meterflow/internal/aggregation"
	"meterflow/internal/audit"
	"meterflow/internal/auth"
	hierarchyrepo "meterflow/internal/hierarchy/infrastructure/postgres"
	masterdatarepo "meterflow/internal/masterdata/infrastructure/postgres"
	"meterflow/internal/observability/metrics"
	readingsrepo "meterflow/internal/readings/infrastructure/postgres"
	reconapp "meterflow/internal/reconciliation/application"
	reconrepo "meterflow/internal/reconciliation/infrastructure/postgres"
	reconinterfaces "meterflow/internal/reconciliation/interfaces"
	tariffrepo "meterflow/internal/tariff/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	runnerCfg, err := reconapp.LoadConfig()
	if err != nil {
		logger.Fatalf("runner config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	siteRepo := masterdatarepo.NewSiteRepository(db)
	meterRepo := masterdatarepo.NewMeterRepository(db)
	connectionRepo := masterdatarepo.NewConnectionRepository(db)

	readingQuery := readingsrepo.NewReadingQuery(db)
	correctionRepo := readingsrepo.NewCorrectionRepository(db)

	tariffRepo := tariffrepo.NewTariffRepository(db)
	tariffResolver := tariffrepo.NewPeriodResolver(db)

	generator := hierarchyrepo.NewGenerator(db)

	jobRepo := reconrepo.NewJobRepository(db)
	runRepo := reconrepo.NewRunRepository(db)
	resultRepo := reconrepo.NewResultRepository(db)

	aggregator := aggregation.NewAggregator(readingQuery, logger,
		aggregation.WithPageSize(runnerCfg.PageSize))

	runner := reconapp.NewRunner(
		jobRepo, runRepo, resultRepo, correctionRepo,
		siteRepo, meterRepo, connectionRepo,
		tariffRepo, tariffResolver, generator,
		aggregator, logger,
		reconapp.WithPeriodDelay(runnerCfg.PeriodDelay),
	)

	auditRepo := audit.NewRepository(db)

	reconHandler, err := reconinterfaces.NewReconHandler(runner, jobRepo, runRepo, resultRepo, correctionRepo, auditRepo)
	if err != nil {
		logger.Fatalf("recon handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/reconciliation/jobs", reconHandler)
	mux.Handle("/api/v1/reconciliation/jobs/", reconHandler)
	mux.Handle("/api/v1/reconciliation/runs/", reconHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL string
	HTTPAddr    string
	JWTSecret   string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:   getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
