// Package config defines the runtime configuration for the scalp API
// server and provides loading and validation helpers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure. Fields are populated from
// a TOML file and then optionally overridden by SCALP_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Market   MarketConfig   `toml:"market"`
	Scalp    ScalpParams    `toml:"scalp"`
	Keeper   KeeperConfig   `toml:"keeper"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port int `toml:"port"`
}

// DatabaseConfig holds the sqlite database location.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// AuthConfig holds JWT signing material and the bootstrap credentials.
// ClientID/ClientSecret authenticate regular traders and keepers;
// OwnerID/OwnerSecret mint tokens carrying the owner claim used by the
// admin endpoints.
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	OwnerID      string `toml:"owner_id"`
	OwnerSecret  string `toml:"owner_secret"`
}

// MarketConfig describes the single traded pair and the mock oracle's
// starting state. Prices are quoted to eight decimals.
type MarketConfig struct {
	Pair              string `toml:"pair"`
	BaseSymbol        string `toml:"base_symbol"`
	QuoteSymbol       string `toml:"quote_symbol"`
	BaseDecimals      int32  `toml:"base_decimals"`
	QuoteDecimals     int32  `toml:"quote_decimals"`
	InitialMarkPrice  string `toml:"initial_mark_price"`
	InitialVolatility string `toml:"initial_volatility"`
}

// ScalpParams seeds the first versioned parameter record. Amount fields
// are decimal strings in smallest units so they survive TOML intact.
type ScalpParams struct {
	MaxSize                 string `toml:"max_size"`
	MaxOpenInterest         string `toml:"max_open_interest"`
	MinimumMargin           string `toml:"minimum_margin"`
	FeeBps                  string `toml:"fee_bps"`
	MinimumPremiumThreshold string `toml:"minimum_premium_threshold"`
	CoolingPeriodSeconds    int64  `toml:"cooling_period_seconds"`
	InsuranceFund           string `toml:"insurance_fund"`
}

// KeeperConfig controls the background order-fill loop.
type KeeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "1m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with development defaults. The
// market defaults describe an ETH/USDC pair with an 18-decimal base and
// a 6-decimal quote, priced at 1000.00000000.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "scalp.db",
		},
		Auth: AuthConfig{
			JWTSecret:    "development-jwt-secret",
			ClientID:     "test_client",
			ClientSecret: "test_secret",
			OwnerID:      "owner",
			OwnerSecret:  "owner_secret",
		},
		Market: MarketConfig{
			Pair:              "ETH-USDC",
			BaseSymbol:        "ETH",
			QuoteSymbol:       "USDC",
			BaseDecimals:      18,
			QuoteDecimals:     6,
			InitialMarkPrice:  "100000000000",
			InitialVolatility: "100",
		},
		Scalp: ScalpParams{
			MaxSize:                 "100000000000",
			MaxOpenInterest:         "20000000000000",
			MinimumMargin:           "5000000",
			FeeBps:                  "5000000",
			MinimumPremiumThreshold: "500000",
			CoolingPeriodSeconds:    3600,
			InsuranceFund:           "insurance-fund",
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Interval: duration{5 * time.Second},
		},
		LogLevel: "info",
	}
}

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SCALP_* environment variable overrides, and
// returns the final Config. The caller should invoke Config.Validate()
// after Load. A missing file is not an error; defaults plus environment
// overrides are used instead.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SCALP_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
// This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "SCALP_SERVER_PORT")
	setStr(&cfg.Database.Path, "SCALP_DATABASE_PATH")

	setStr(&cfg.Auth.JWTSecret, "SCALP_AUTH_JWT_SECRET")
	setStr(&cfg.Auth.ClientID, "SCALP_AUTH_CLIENT_ID")
	setStr(&cfg.Auth.ClientSecret, "SCALP_AUTH_CLIENT_SECRET")
	setStr(&cfg.Auth.OwnerID, "SCALP_AUTH_OWNER_ID")
	setStr(&cfg.Auth.OwnerSecret, "SCALP_AUTH_OWNER_SECRET")

	setStr(&cfg.Market.Pair, "SCALP_MARKET_PAIR")
	setStr(&cfg.Market.InitialMarkPrice, "SCALP_MARKET_INITIAL_MARK_PRICE")
	setStr(&cfg.Market.InitialVolatility, "SCALP_MARKET_INITIAL_VOLATILITY")

	setBool(&cfg.Keeper.Enabled, "SCALP_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "SCALP_KEEPER_INTERVAL")

	setStr(&cfg.LogLevel, "SCALP_LOG_LEVEL")
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, "database: path must not be empty")
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth: jwt_secret must not be empty")
	}
	if c.Market.Pair == "" {
		errs = append(errs, "market: pair must not be empty")
	}
	if c.Market.BaseDecimals <= 0 || c.Market.QuoteDecimals <= 0 {
		errs = append(errs, "market: base_decimals and quote_decimals must be positive")
	}
	if c.Keeper.Enabled && c.Keeper.Interval.Duration <= 0 {
		errs = append(errs, "keeper: interval must be positive when enabled")
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// KeeperInterval exposes the decoded keeper poll interval.
func (c *Config) KeeperInterval() time.Duration {
	return c.Keeper.Interval.Duration
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
