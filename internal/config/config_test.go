package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STOREFRONT_API_URL", "")
	t.Setenv("STOREFRONT_STATE_BACKEND", "")

	cfg := Load()

	assert.Equal(t, "http://localhost:3001/api", cfg.APIBaseURL)
	assert.Equal(t, BackendSQLite, cfg.StateBackend)
	assert.Equal(t, 5*time.Minute, cfg.ProductStaleTime)
	assert.Equal(t, 30*time.Second, cfg.SearchStaleTime)
	assert.True(t, cfg.ShippingFlat.Equal(decimal.NewFromInt(10)))
	assert.True(t, cfg.TaxRate.Equal(decimal.RequireFromString("0.1")))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STOREFRONT_API_URL", "https://shop.example.com/api")
	t.Setenv("STOREFRONT_STATE_BACKEND", "REDIS")
	t.Setenv("STOREFRONT_HTTP_TIMEOUT", "5s")
	t.Setenv("STOREFRONT_TAX_RATE", "0.2")
	t.Setenv("STOREFRONT_USE_TEMPORAL", "true")
	t.Setenv("STOREFRONT_SEARCH_DEBOUNCE", "not-a-duration")
	t.Setenv("CHECKOUT_TOKEN_SECRET", "s3cret")

	cfg := Load()

	assert.Equal(t, "https://shop.example.com/api", cfg.APIBaseURL)
	assert.Equal(t, BackendRedis, cfg.StateBackend)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.True(t, cfg.TaxRate.Equal(decimal.RequireFromString("0.2")))
	assert.True(t, cfg.UseTemporal)
	assert.Equal(t, 300*time.Millisecond, cfg.SearchDebounce)
	assert.Equal(t, "s3cret", cfg.TokenSecret)
}
