package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage backends for cart and wishlist state.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	// Remote commerce API
	APIBaseURL  string
	HTTPTimeout time.Duration

	// Local state persistence
	StateBackend string
	StatePath    string
	RedisAddr    string
	RedisPrefix  string

	// Remote data cache
	ProductStaleTime time.Duration
	SearchStaleTime  time.Duration
	SearchDebounce   time.Duration

	// Checkout pricing
	ShippingFlat decimal.Decimal
	TaxRate      decimal.Decimal

	// Temporal order submission
	UseTemporal       bool
	TemporalHostPort  string
	TemporalNamespace string
	// TokenSecret encrypts bearer tokens in workflow inputs; the storefront
	// and the checkout worker must share it.
	TokenSecret string

	// Logging
	LogFormat string
	LogLevel  string
}

// Load reads configuration from the environment, merging a .env file from the
// working directory when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		APIBaseURL:  getEnv("STOREFRONT_API_URL", "http://localhost:3001/api"),
		HTTPTimeout: getDurationEnv("STOREFRONT_HTTP_TIMEOUT", 30*time.Second),

		StateBackend: strings.ToLower(getEnv("STOREFRONT_STATE_BACKEND", BackendSQLite)),
		StatePath:    getEnv("STOREFRONT_STATE_PATH", "storefront.db"),
		RedisAddr:    getEnv("STOREFRONT_REDIS_ADDR", "localhost:6379"),
		RedisPrefix:  getEnv("STOREFRONT_REDIS_PREFIX", ""),

		ProductStaleTime: getDurationEnv("STOREFRONT_PRODUCT_STALE_TIME", 5*time.Minute),
		SearchStaleTime:  getDurationEnv("STOREFRONT_SEARCH_STALE_TIME", 30*time.Second),
		SearchDebounce:   getDurationEnv("STOREFRONT_SEARCH_DEBOUNCE", 300*time.Millisecond),

		ShippingFlat: getDecimalEnv("STOREFRONT_SHIPPING_FLAT", decimal.NewFromInt(10)),
		TaxRate:      getDecimalEnv("STOREFRONT_TAX_RATE", decimal.NewFromFloat(0.10)),

		UseTemporal:       getBoolEnv("STOREFRONT_USE_TEMPORAL", false),
		TemporalHostPort:  getEnv("TEMPORAL_HOST_PORT", "localhost:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TokenSecret:       getEnv("CHECKOUT_TOKEN_SECRET", ""),

		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
