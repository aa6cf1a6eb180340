package db

import (
	"encoding/json"
	"log"
	"strconv"

	"albion-flipper/internal/config"
	"albion-flipper/internal/market"
)

// LoadConfig overlays persisted tunables on base and returns it.
// A nil base starts from config.Default().
func (d *DB) LoadConfig(base *config.Config) *config.Config {
	cfg := base
	if cfg == nil {
		cfg = config.Default()
	}

	rows, err := d.sql.Query("SELECT key, value FROM config")
	if err != nil {
		return cfg
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var k, v string
		rows.Scan(&k, &v)
		m[k] = v
	}

	if len(m) == 0 {
		return cfg
	}

	if v, ok := m["locations"]; ok {
		var locs []string
		if err := json.Unmarshal([]byte(v), &locs); err == nil && len(locs) > 0 {
			cfg.Locations = locs
		}
	}
	if v, ok := m["clearinghouse"]; ok && v != "" {
		cfg.Clearinghouse = v
	}
	if v, ok := m["qualities"]; ok {
		cfg.Qualities = market.ParseQualities(v)
	}
	if v, ok := m["batch_size"]; ok {
		cfg.BatchSize, _ = strconv.Atoi(v)
	}
	if v, ok := m["request_timeout_sec"]; ok {
		cfg.RequestTimeoutSec, _ = strconv.Atoi(v)
	}
	if v, ok := m["max_concurrent_requests"]; ok {
		cfg.MaxConcurrentRequests, _ = strconv.Atoi(v)
	}
	if v, ok := m["cache_ttl_sec"]; ok {
		cfg.CacheTTLSec, _ = strconv.Atoi(v)
	}
	if v, ok := m["refresh_interval_sec"]; ok {
		cfg.RefreshIntervalSec, _ = strconv.Atoi(v)
	}
	if v, ok := m["default_tier_min"]; ok {
		cfg.DefaultTierMin, _ = strconv.Atoi(v)
	}
	if v, ok := m["default_tier_max"]; ok {
		cfg.DefaultTierMax, _ = strconv.Atoi(v)
	}
	if v, ok := m["default_ench_min"]; ok {
		cfg.DefaultEnchMin, _ = strconv.Atoi(v)
	}
	if v, ok := m["default_ench_max"]; ok {
		cfg.DefaultEnchMax, _ = strconv.Atoi(v)
	}
	if v, ok := m["min_profit_net"]; ok {
		cfg.MinProfitNet, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := m["min_margin_net"]; ok {
		cfg.MinMarginNet, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["top_per_template"]; ok {
		cfg.TopPerTemplate, _ = strconv.Atoi(v)
	}
	if v, ok := m["top_per_category"]; ok {
		cfg.TopPerCategory, _ = strconv.Atoi(v)
	}
	if v, ok := m["top_global"]; ok {
		cfg.TopGlobal, _ = strconv.Atoi(v)
	}

	return cfg
}

// SaveConfig persists the tunable part of cfg. Deployment settings (port,
// paths, Redis) stay in the environment.
func (d *DB) SaveConfig(cfg *config.Config) error {
	locs, _ := json.Marshal(cfg.Locations)

	m := map[string]string{
		"locations":               string(locs),
		"clearinghouse":           cfg.Clearinghouse,
		"qualities":               market.FormatQualities(cfg.Qualities),
		"batch_size":              strconv.Itoa(cfg.BatchSize),
		"request_timeout_sec":     strconv.Itoa(cfg.RequestTimeoutSec),
		"max_concurrent_requests": strconv.Itoa(cfg.MaxConcurrentRequests),
		"cache_ttl_sec":           strconv.Itoa(cfg.CacheTTLSec),
		"refresh_interval_sec":    strconv.Itoa(cfg.RefreshIntervalSec),
		"default_tier_min":        strconv.Itoa(cfg.DefaultTierMin),
		"default_tier_max":        strconv.Itoa(cfg.DefaultTierMax),
		"default_ench_min":        strconv.Itoa(cfg.DefaultEnchMin),
		"default_ench_max":        strconv.Itoa(cfg.DefaultEnchMax),
		"min_profit_net":          strconv.FormatInt(cfg.MinProfitNet, 10),
		"min_margin_net":          strconv.FormatFloat(cfg.MinMarginNet, 'f', -1, 64),
		"top_per_template":        strconv.Itoa(cfg.TopPerTemplate),
		"top_per_category":        strconv.Itoa(cfg.TopPerCategory),
		"top_global":              strconv.Itoa(cfg.TopGlobal),
	}

	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for k, v := range m {
		if _, err := stmt.Exec(k, v); err != nil {
			log.Printf("[DB] SaveConfig %s: %v", k, err)
			return err
		}
	}
	return tx.Commit()
}
