package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"albion-flipper/internal/engine"
	"albion-flipper/internal/items"
	"albion-flipper/internal/market"
)

// DefaultLocations are the feed locations queried when none are configured.
var DefaultLocations = []string{
	"Bridgewatch", "Martlock", "Fort Sterling", "Lymhurst",
	"Thetford", "Caerleon", "Brecilien", "Black Market",
}

// Config holds application settings (in-memory representation).
// Tunables are persisted by the internal/db package.
type Config struct {
	Port   int    `json:"port"`
	DBPath string `json:"db_path"`

	// Price feed.
	PriceAPIBaseURL       string   `json:"price_api_base_url"`
	Locations             []string `json:"locations"`
	Clearinghouse         string   `json:"clearinghouse"`
	Qualities             []int    `json:"qualities"`
	BatchSize             int      `json:"batch_size"`
	RequestTimeoutSec     int      `json:"request_timeout_sec"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests"`
	CacheTTLSec           int      `json:"cache_ttl_sec"`

	// Snapshot refresh.
	RefreshIntervalSec int `json:"refresh_interval_sec"`

	// Default ranges for single-item analysis.
	DefaultTierMin int `json:"default_tier_min"`
	DefaultTierMax int `json:"default_tier_max"`
	DefaultEnchMin int `json:"default_ench_min"`
	DefaultEnchMax int `json:"default_ench_max"`

	// Flip filters and truncation.
	MinProfitNet   int64   `json:"min_profit_net"`
	MinMarginNet   float64 `json:"min_margin_net"`
	TopPerTemplate int     `json:"top_per_template"`
	TopPerCategory int     `json:"top_per_category"`
	TopGlobal      int     `json:"top_global"`

	// Publishing; empty RedisURL disables it.
	RedisURL    string `json:"redis_url"`
	RedisStream string `json:"redis_stream"`

	CORSOrigins []string `json:"cors_origins"`
}

// Default returns a config with default values.
func Default() *Config {
	return &Config{
		Port:                  13370,
		DBPath:                "flipper.db",
		PriceAPIBaseURL:       "https://www.albion-online-data.com/api/v2/stats/prices",
		Locations:             append([]string(nil), DefaultLocations...),
		Clearinghouse:         "Black Market",
		Qualities:             append([]int(nil), market.AllQualities...),
		BatchSize:             120,
		RequestTimeoutSec:     30,
		MaxConcurrentRequests: 4,
		CacheTTLSec:           300,
		RefreshIntervalSec:    300,
		DefaultTierMin:        4,
		DefaultTierMax:        8,
		DefaultEnchMin:        0,
		DefaultEnchMax:        4,
		MinProfitNet:          1,
		MinMarginNet:          0,
		TopPerTemplate:        25,
		TopPerCategory:        100,
		TopGlobal:             200,
		RedisStream:           "albion:flips",
		CORSOrigins:           []string{"*"},
	}
}

// Load reads .env (if present) and overlays environment variables on Default().
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[CONFIG] No .env file found, using system env vars")
	}
	return FromEnv(Default())
}

// FromEnv overlays environment variables on cfg and returns it.
func FromEnv(cfg *Config) *Config {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.PriceAPIBaseURL = getEnv("PRICE_API_BASE_URL", cfg.PriceAPIBaseURL)
	cfg.Locations = getEnvList("LOCATIONS", cfg.Locations)
	cfg.Clearinghouse = getEnv("CLEARINGHOUSE", cfg.Clearinghouse)
	if v := os.Getenv("QUALITIES"); v != "" {
		cfg.Qualities = market.ParseQualities(v)
	}
	cfg.BatchSize = getEnvInt("BATCH_SIZE", cfg.BatchSize)
	cfg.RequestTimeoutSec = getEnvInt("REQUEST_TIMEOUT_SEC", cfg.RequestTimeoutSec)
	cfg.MaxConcurrentRequests = getEnvInt("MAX_CONCURRENT_REQUESTS", cfg.MaxConcurrentRequests)
	cfg.CacheTTLSec = getEnvInt("CACHE_TTL_SEC", cfg.CacheTTLSec)
	cfg.RefreshIntervalSec = getEnvInt("REFRESH_INTERVAL_SEC", cfg.RefreshIntervalSec)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisStream = getEnv("REDIS_STREAM", cfg.RedisStream)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.CORSOrigins)
	return cfg
}

// Validate checks ranges and limits.
func (c *Config) Validate() error {
	if err := items.ValidateRanges(c.DefaultTierMin, c.DefaultTierMax, c.DefaultEnchMin, c.DefaultEnchMax); err != nil {
		return err
	}
	if len(c.Locations) == 0 {
		return fmt.Errorf("no locations configured")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max_concurrent_requests must be positive, got %d", c.MaxConcurrentRequests)
	}
	if c.TopPerTemplate < 0 || c.TopPerCategory < 0 || c.TopGlobal < 0 {
		return fmt.Errorf("top-N limits must not be negative")
	}
	return nil
}

// CatalogParams returns the scan settings derived from the tunables.
func (c *Config) CatalogParams() engine.CatalogParams {
	return engine.CatalogParams{
		TopPerTemplate: c.TopPerTemplate,
		TopPerCategory: c.TopPerCategory,
		TopGlobal:      c.TopGlobal,
		MinProfitNet:   c.MinProfitNet,
		MinMarginNet:   c.MinMarginNet,
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Locations = append([]string(nil), c.Locations...)
	out.Qualities = append([]int(nil), c.Qualities...)
	out.CORSOrigins = append([]string(nil), c.CORSOrigins...)
	return &out
}

// RequestTimeout is the per-request feed timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// RefreshInterval is the snapshot refresh period.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// CacheTTL is how long a fetched batch is reused.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

// getEnvList reads a comma-separated list, trimming blanks.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
