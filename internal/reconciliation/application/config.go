package application

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes the reconciliation runner.
type Config struct {
	// PageSize is the reading scan page size.
	PageSize int `yaml:"page_size"`
	// PeriodDelay is the pause between periods to avoid saturating the
	// backing store.
	PeriodDelay time.Duration `yaml:"period_delay"`
	// Currency labels monetary totals in exports.
	Currency string `yaml:"currency"`
}

// LoadConfig loads runner configuration from the RECON_CONFIG yaml file when
// set, with env fallbacks for individual values.
func LoadConfig() (Config, error) {
	cfg := Config{
		PageSize:    getenvIntDefault("RECON_PAGE_SIZE", 500),
		PeriodDelay: getenvDurationDefault("RECON_PERIOD_DELAY", time.Second),
		Currency:    getenvDefault("RECON_CURRENCY", "ZAR"),
	}

	if path := os.Getenv("RECON_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.PeriodDelay < 0 {
		cfg.PeriodDelay = 0
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

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
