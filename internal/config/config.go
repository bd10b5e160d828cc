package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level settings loaded from the environment.
type Config struct {
	Environment string
	HTTPAddr    string
	DatabaseDSN string

	Points    PointsConfig
	Billing   BillingConfig
	Sync      SyncConfig
	Providers ProvidersConfig
	Tracing   TracingConfig
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled       bool
	Endpoint      string
	SamplingRatio float64
}

// PointsConfig controls accrual behaviour.
type PointsConfig struct {
	// EarnRatePercent is the base accrual rate applied to transaction
	// amounts, e.g. 2.0 credits 2 points per 100 minor units.
	EarnRatePercent float64
}

// BillingConfig controls fee computation and cycle close.
type BillingConfig struct {
	// SubscriptionFeeCents is the fixed monthly platform fee per merchant.
	SubscriptionFeeCents int64
	// TransactionFeePercent is the default per-transaction fee rate.
	TransactionFeePercent float64
	// DueDays is the payment window after a cycle is issued.
	DueDays int
}

// SyncConfig controls the periodic transaction sync worker.
type SyncConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// ProvidersConfig carries per-provider endpoint settings.
type ProvidersConfig struct {
	Square ProviderEndpoint
	Clover ProviderEndpoint
}

// ProviderEndpoint identifies one point-of-sale provider integration.
type ProviderEndpoint struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

// IsProduction reports whether the process runs with production safeguards.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		Environment: envString("LOCALCARD_ENV", "development"),
		HTTPAddr:    envString("LOCALCARD_HTTP_ADDR", ":8080"),
		DatabaseDSN: envString("LOCALCARD_DB_DSN", "file:localcard.db?_fk=1"),
		Points: PointsConfig{
			EarnRatePercent: envFloat("LOCALCARD_EARN_RATE_PERCENT", 2.0),
		},
		Billing: BillingConfig{
			SubscriptionFeeCents:  envInt64("LOCALCARD_SUBSCRIPTION_FEE_CENTS", 4000),
			TransactionFeePercent: envFloat("LOCALCARD_TRANSACTION_FEE_PERCENT", 0.03),
			DueDays:               envInt("LOCALCARD_BILLING_DUE_DAYS", 14),
		},
		Sync: SyncConfig{
			Interval: envDuration("LOCALCARD_SYNC_INTERVAL", 5*time.Minute),
			Timeout:  envDuration("LOCALCARD_SYNC_TIMEOUT", 60*time.Second),
		},
		Providers: ProvidersConfig{
			Square: ProviderEndpoint{
				BaseURL:      envString("LOCALCARD_SQUARE_BASE_URL", "https://connect.squareup.com"),
				ClientID:     os.Getenv("LOCALCARD_SQUARE_CLIENT_ID"),
				ClientSecret: os.Getenv("LOCALCARD_SQUARE_CLIENT_SECRET"),
			},
			Clover: ProviderEndpoint{
				BaseURL:      envString("LOCALCARD_CLOVER_BASE_URL", "https://api.clover.com"),
				ClientID:     os.Getenv("LOCALCARD_CLOVER_CLIENT_ID"),
				ClientSecret: os.Getenv("LOCALCARD_CLOVER_CLIENT_SECRET"),
			},
		},
		Tracing: TracingConfig{
			Enabled:       envString("LOCALCARD_TRACING_ENABLED", "false") == "true",
			Endpoint:      os.Getenv("LOCALCARD_TRACING_ENDPOINT"),
			SamplingRatio: envFloat("LOCALCARD_TRACING_SAMPLING_RATIO", 0.1),
		},
	}
}

func envString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
