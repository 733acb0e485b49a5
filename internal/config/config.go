package config

import (
	"strings"
	"time"

	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Storage drivers for metering entities.
const (
	StorageDriverFile   = "file"
	StorageDriverSQLite = "sqlite"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	StorageDriver string
	StorageDir    string
	SQLitePath    string

	// MeteringInterval is the default billing interval for customers
	// without a custom period: hourly, daily, weekly or monthly.
	MeteringInterval string

	MinimumBillAmount     float64
	MaximumBillAmount     float64
	ProratePartialPeriods bool
	InvoiceDueDays        int

	// RuleCacheTTL bounds how long resolved pricing rules and computed
	// costs stay cached in the billing calculator.
	RuleCacheTTL time.Duration

	// NearLimitThreshold is the quota usage percentage that flags a
	// customer as approaching their ceiling.
	NearLimitThreshold float64

	SchedulerInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PricingConfigPaths []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "metering"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		StorageDriver: normalizeDriver(getenv("STORAGE_DRIVER", StorageDriverFile)),
		StorageDir:    getenv("STORAGE_DIR", "./data"),
		SQLitePath:    getenv("SQLITE_PATH", "./data/metering.db"),

		MeteringInterval: strings.ToLower(getenv("METERING_INTERVAL", "monthly")),

		MinimumBillAmount:     getenvFloat("MINIMUM_BILL_AMOUNT", 0),
		MaximumBillAmount:     getenvFloat("MAXIMUM_BILL_AMOUNT", 0),
		ProratePartialPeriods: getenvBool("PRORATE_PARTIAL_PERIODS", false),
		InvoiceDueDays:        getenvInt("INVOICE_DUE_DAYS", 30),

		RuleCacheTTL:       getenvDuration("RULE_CACHE_TTL", 24*time.Hour),
		NearLimitThreshold: getenvFloat("NEAR_LIMIT_THRESHOLD", 80),

		SchedulerInterval: getenvDuration("SCHEDULER_INTERVAL", time.Minute),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		PricingConfigPaths: splitPaths(getenv("PRICING_CONFIG_PATHS", ".")),
	}
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case StorageDriverSQLite:
		return StorageDriverSQLite
	default:
		return StorageDriverFile
	}
}

func splitPaths(raw string) []string {
	parts := strings.Split(raw, ",")
	paths := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paths = append(paths, trimmed)
		}
	}
	return paths
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
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

func getenvInt(key string, fallback int) int {
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

func getenvFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
