// Package config loads service configuration from a JSON file with
// environment overrides for secrets and deploy-time knobs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type CoinGecko struct {
	BaseURL              string `json:"base_url"`
	APIKey               string `json:"api_key"`
	VSCurrency           string `json:"vs_currency"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Burst                int    `json:"burst"`
	QuoteTTLSeconds      int    `json:"quote_ttl_sec"`
}

type USEquity struct {
	BaseURL              string `json:"base_url"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Burst                int    `json:"burst"`
	QuoteTTLSeconds      int    `json:"quote_ttl_sec"`
}

type MOEX struct {
	BaseURL              string `json:"base_url"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Burst                int    `json:"burst"`
	QuoteTTLSeconds      int    `json:"quote_ttl_sec"`
}

type Cache struct {
	MaxItems int `json:"max_items"`
}

type Config struct {
	Server    Server    `json:"server"`
	CoinGecko CoinGecko `json:"coingecko"`
	USEquity  USEquity  `json:"usequity"`
	MOEX      MOEX      `json:"moex"`
	Cache     Cache     `json:"cache"`
	LogLevel  string    `json:"log_level"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		CoinGecko: CoinGecko{
			VSCurrency:           "usd",
			MaxRequestsPerMinute: 30,
			Burst:                5,
			QuoteTTLSeconds:      30,
		},
		USEquity: USEquity{
			MaxRequestsPerMinute: 60,
			Burst:                10,
			QuoteTTLSeconds:      15,
		},
		MOEX: MOEX{
			MaxRequestsPerMinute: 120,
			Burst:                20,
			QuoteTTLSeconds:      60,
		},
		Cache:    Cache{MaxItems: 100000},
		LogLevel: "info",
	}
}

// Load reads JSON config from path. An empty path falls back to config.json
// when present, otherwise defaults. A .env file, if any, is loaded first so
// environment overrides pick it up.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.RequestTimeoutSec, "REQUEST_TIMEOUT_SEC")

	setString(&cfg.CoinGecko.APIKey, "COINGECKO_API_KEY")
	setString(&cfg.CoinGecko.BaseURL, "COINGECKO_BASE_URL")
	setString(&cfg.CoinGecko.VSCurrency, "COINGECKO_VS_CURRENCY")
	setInt(&cfg.CoinGecko.MaxRequestsPerMinute, "COINGECKO_MAX_RPM")
	setInt(&cfg.CoinGecko.QuoteTTLSeconds, "COINGECKO_QUOTE_TTL_SEC")

	setString(&cfg.USEquity.BaseURL, "USEQUITY_BASE_URL")
	setInt(&cfg.USEquity.MaxRequestsPerMinute, "USEQUITY_MAX_RPM")
	setInt(&cfg.USEquity.QuoteTTLSeconds, "USEQUITY_QUOTE_TTL_SEC")

	setString(&cfg.MOEX.BaseURL, "MOEX_BASE_URL")
	setInt(&cfg.MOEX.MaxRequestsPerMinute, "MOEX_MAX_RPM")
	setInt(&cfg.MOEX.QuoteTTLSeconds, "MOEX_QUOTE_TTL_SEC")

	setInt(&cfg.Cache.MaxItems, "CACHE_MAX_ITEMS")
	setString(&cfg.LogLevel, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			*dst = x
		}
	}
}
