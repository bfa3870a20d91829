// Package config loads runtime configuration for the operations core. Values
// come from the environment; an optional TOML file (MESA_CONFIG) pre-seeds
// them so deployments can ship a base file and override per instance. The
// snapshot is loaded once at startup and passed explicitly to constructors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"mesaops/money"
)

// Config is the immutable runtime snapshot.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	StreamKey   string

	SessionTTL            time.Duration
	TaxRate               decimal.Decimal
	PriceMode             money.PriceMode
	ClosedSessionsWindow  time.Duration
	StoreCancelReason     bool
	AutoAssignDefault     bool
	SignedInWindow        time.Duration

	JWTSecret string
	PIIKeyHex string

	Environment string
}

// fileConfig is the TOML shape of the optional base file.
type fileConfig struct {
	Port                       string  `toml:"Port"`
	DatabaseURL                string  `toml:"DatabaseURL"`
	RedisURL                   string  `toml:"RedisURL"`
	StreamKey                  string  `toml:"StreamKey"`
	SessionTTLHours            int     `toml:"SessionTTLHours"`
	TaxRate                    string  `toml:"TaxRate"`
	PriceDisplayMode           string  `toml:"PriceDisplayMode"`
	ClosedSessionsHistoryHours int     `toml:"ClosedSessionsHistoryHours"`
	StoreCancelReason          *bool   `toml:"StoreCancelReason"`
	AutoAssignOnAcceptDefault  *bool   `toml:"AutoAssignOnAcceptDefault"`
	Environment                string  `toml:"Environment"`
}

// FromEnv builds the configuration snapshot.
func FromEnv() (*Config, error) {
	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("MESA_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	dbURL := getEnvDefault("MESA_DB_URL", file.DatabaseURL)
	if dbURL == "" {
		return nil, fmt.Errorf("MESA_DB_URL is required")
	}

	ttlHours := parseIntEnv("SESSION_TTL_HOURS", defaultInt(file.SessionTTLHours, 4))
	if ttlHours <= 0 {
		return nil, fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}

	taxRateRaw := getEnvDefault("TAX_RATE", defaultString(file.TaxRate, "0.16"))
	taxRate, err := decimal.NewFromString(taxRateRaw)
	if err != nil || taxRate.IsNegative() {
		return nil, fmt.Errorf("invalid TAX_RATE %q", taxRateRaw)
	}

	modeRaw := getEnvDefault("PRICE_DISPLAY_MODE", defaultString(file.PriceDisplayMode, string(money.TaxExcluded)))
	mode, err := money.ParsePriceMode(modeRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_DISPLAY_MODE %q", modeRaw)
	}

	historyHours := parseIntEnv("CLOSED_SESSIONS_HISTORY_HOURS", defaultInt(file.ClosedSessionsHistoryHours, 24))
	if historyHours <= 0 {
		return nil, fmt.Errorf("CLOSED_SESSIONS_HISTORY_HOURS must be positive")
	}

	storeCancel := parseBoolEnv("STORE_CANCEL_REASON", defaultBool(file.StoreCancelReason, true))
	autoAssign := parseBoolEnv("ASSIGNMENT_AUTO_ON_ACCEPT_DEFAULT", defaultBool(file.AutoAssignOnAcceptDefault, true))

	return &Config{
		Port:                 normalizePort(getEnvDefault("MESA_PORT", defaultString(file.Port, "8080"))),
		DatabaseURL:          dbURL,
		RedisURL:             getEnvDefault("MESA_REDIS_URL", file.RedisURL),
		StreamKey:            getEnvDefault("MESA_STREAM_KEY", file.StreamKey),
		SessionTTL:           time.Duration(ttlHours) * time.Hour,
		TaxRate:              taxRate,
		PriceMode:            mode,
		ClosedSessionsWindow: time.Duration(historyHours) * time.Hour,
		StoreCancelReason:    storeCancel,
		AutoAssignDefault:    autoAssign,
		SignedInWindow:       time.Duration(parseIntEnv("MESA_SIGNED_IN_WINDOW_MINUTES", 30)) * time.Minute,
		JWTSecret:            strings.TrimSpace(os.Getenv("MESA_AUTH_JWT_SECRET")),
		PIIKeyHex:            strings.TrimSpace(os.Getenv("MESA_PII_KEY")),
		Environment:          getEnvDefault("MESA_ENV", defaultString(file.Environment, "dev")),
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	if port == "" {
		return "8080"
	}
	if len(port) > 0 && port[0] == ':' {
		return port[1:]
	}
	return port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}

func defaultInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func defaultBool(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}
