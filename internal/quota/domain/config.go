package domain

import (
	"os"
	"strconv"
)

// Config bounds platform-level ingestion, independent of per-customer
// quotas.
type Config struct {
	Enabled bool

	// CustomerUsageMonthly caps usage events per customer per month.
	CustomerUsageMonthly int
}

func LoadFromEnv() *Config {
	return &Config{
		Enabled:              getEnvBool("INGEST_GUARD_ENABLED", false),
		CustomerUsageMonthly: getEnvInt("INGEST_GUARD_CUSTOMER_MONTHLY", 100000),
	}
}

func getEnvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return i
}
