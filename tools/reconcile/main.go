package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"meterflow/internal/aggregation"
	hierarchyrepo "meterflow/internal/hierarchy/infrastructure/postgres"
	masterdatarepo "meterflow/internal/masterdata/infrastructure/postgres"
	readingsrepo "meterflow/internal/readings/infrastructure/postgres"
	reconapp "meterflow/internal/reconciliation/application"
	recon "meterflow/internal/reconciliation/domain"
	reconrepo "meterflow/internal/reconciliation/infrastructure/postgres"
	reconinterfaces "meterflow/internal/reconciliation/interfaces"
	tariffrepo "meterflow/internal/tariff/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dbURL   string
	siteID  string
	month   string
	revenue bool
	outDir  string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	monthStart, monthEnd, err := parseMonth(cfg.month)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	jobRepo := reconrepo.NewJobRepository(db)
	runRepo := reconrepo.NewRunRepository(db)
	resultRepo := reconrepo.NewResultRepository(db)
	correctionRepo := readingsrepo.NewCorrectionRepository(db)

	runner := reconapp.NewRunner(
		jobRepo, runRepo, resultRepo, correctionRepo,
		masterdatarepo.NewSiteRepository(db),
		masterdatarepo.NewMeterRepository(db),
		masterdatarepo.NewConnectionRepository(db),
		tariffrepo.NewTariffRepository(db),
		tariffrepo.NewPeriodResolver(db),
		hierarchyrepo.NewGenerator(db),
		aggregation.NewAggregator(readingsrepo.NewReadingQuery(db), logger),
		logger,
		reconapp.WithPeriodDelay(0),
	)

	ctx := context.Background()
	jobID, err := runner.Start(ctx, reconapp.StartRequest{
		SiteID: cfg.siteID,
		Periods: []reconapp.Period{{
			ID:    cfg.month,
			Label: cfg.month,
			From:  monthStart,
			To:    monthEnd,
		}},
		RevenueEnabled: cfg.revenue,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(2)
	}

	job, err := waitForJob(ctx, jobRepo, jobID, 10*time.Minute)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wait:", err)
		os.Exit(2)
	}
	if job.Status == recon.JobStatusFailed {
		fmt.Fprintln(os.Stderr, "job failed:", job.Error)
		os.Exit(1)
	}

	runs, err := runRepo.ListByJob(ctx, jobID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list runs:", err)
		os.Exit(2)
	}
	for _, run := range runs {
		if err := writeRunOutputs(ctx, cfg.outDir, &run, resultRepo, correctionRepo); err != nil {
			fmt.Fprintln(os.Stderr, "write outputs:", err)
			os.Exit(2)
		}
	}

	fmt.Printf("Reconciliation outputs written to %s (job %s, %d run(s))\n", cfg.outDir, jobID, len(runs))
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.siteID, "site", "", "site id")
	flag.StringVar(&cfg.month, "month", "", "billing month in YYYY-MM")
	flag.BoolVar(&cfg.revenue, "revenue", false, "price the period against tariffs")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.siteID == "" {
		return cfg, errors.New("missing --site")
	}
	if cfg.month == "" {
		return cfg, errors.New("missing --month (YYYY-MM)")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseMonth(value string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("month must be YYYY-MM")
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	// Half-open month window, ending at the first instant of the next month.
	end := start.AddDate(0, 1, 0)
	return start, end, nil
}

func waitForJob(ctx context.Context, jobs *reconrepo.JobRepository, jobID string, timeout time.Duration) (*recon.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, err := jobs.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, fmt.Errorf("job %s disappeared", jobID)
		}
		if job.Status != recon.JobStatusRunning {
			return job, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("job %s still running after %s", jobID, timeout)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func writeRunOutputs(ctx context.Context, outDir string, run *recon.Run, results *reconrepo.ResultRepository, corrections *readingsrepo.CorrectionRepository) error {
	meterResults, err := results.ListByRun(ctx, run.ID)
	if err != nil {
		return err
	}

	csvData, err := reconinterfaces.BuildRunCSV(run, meterResults)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, run.PeriodID+"_results.csv"), csvData, 0o644); err != nil {
		return err
	}

	xlsxData, err := reconinterfaces.BuildRunXLSX(run, meterResults)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, run.PeriodID+"_report.xlsx"), xlsxData, 0o644); err != nil {
		return err
	}

	correctionRows, err := corrections.ListByRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(correctionRows) > 0 {
		data, err := reconinterfaces.BuildCorrectionsCSV(run.ID, correctionRows)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(outDir, run.PeriodID+"_corrections.csv"), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
