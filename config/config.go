package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"niftyPulse/internal/adapters/logger" // Import the logger package for LogLevel
)

// Feed vendor selection values.
const (
	VendorAngelOne = "angelone"
	VendorBinance  = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Upstream feed
	FeedVendor string // "angelone" or "binance"

	// Angel One SmartAPI credentials (required when FeedVendor == "angelone")
	AngelAPIKey         string
	AngelClientID       string
	AngelClientPassword string
	AngelTOTPSecret     string

	// Initial interest
	InstrumentTokens     []string // tokens subscribed at startup (Nifty 50 index by default)
	Underlying           string   // option-chain underlying name
	OptionExpiry         string   // e.g. "13MAR2025"; empty selects the nearest expiry
	SubscribeOptionChain bool     // also subscribe the option chain for Underlying

	// Aggregation
	Period            time.Duration // candle period
	ReferenceTimezone string        // period boundaries computed in this timezone

	// Publication
	SubscriberQueueCapacity int

	// Gateway
	ListenAddr string

	// Candle recorder (optional)
	RecordCandles bool
	DBPath        string

	// Redis bridge (optional, enabled when RedisAddr is set)
	RedisAddr          string
	RedisChannelPrefix string

	// Logging
	LogLevel logger.LogLevel

	// Connection settings for the feed adapter
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Upstream feed
	cfg.FeedVendor = strings.ToLower(getEnv("FEED_VENDOR", VendorAngelOne))
	if cfg.FeedVendor != VendorAngelOne && cfg.FeedVendor != VendorBinance {
		errs = append(errs, fmt.Sprintf("FEED_VENDOR must be %q or %q", VendorAngelOne, VendorBinance))
	}

	// Angel One credentials
	cfg.AngelAPIKey = getEnv("ANGEL_API_KEY", "")
	cfg.AngelClientID = getEnv("ANGEL_CLIENT_ID", "")
	cfg.AngelClientPassword = getEnv("ANGEL_CLIENT_PASSWORD", "")
	cfg.AngelTOTPSecret = getEnv("ANGEL_TOTP_SECRET", "")
	if cfg.FeedVendor == VendorAngelOne {
		if cfg.AngelAPIKey == "" {
			errs = append(errs, "ANGEL_API_KEY must be set")
		}
		if cfg.AngelClientID == "" {
			errs = append(errs, "ANGEL_CLIENT_ID must be set")
		}
		if cfg.AngelClientPassword == "" {
			errs = append(errs, "ANGEL_CLIENT_PASSWORD must be set")
		}
		if cfg.AngelTOTPSecret == "" {
			errs = append(errs, "ANGEL_TOTP_SECRET must be set")
		}
	}

	// Initial interest. Default is the Nifty 50 index token.
	cfg.InstrumentTokens = splitCSV(getEnv("INSTRUMENT_TOKENS", "99926000"))
	if len(cfg.InstrumentTokens) == 0 {
		errs = append(errs, "INSTRUMENT_TOKENS must list at least one token")
	}
	cfg.Underlying = getEnv("UNDERLYING", "NIFTY")
	cfg.OptionExpiry = getEnv("OPTION_EXPIRY", "")
	cfg.SubscribeOptionChain = getEnvAsBool("SUBSCRIBE_OPTION_CHAIN", false)

	// Aggregation
	periodSeconds := getEnvAsInt("PERIOD_SECONDS", 60)
	if periodSeconds <= 0 {
		errs = append(errs, "PERIOD_SECONDS must be positive")
	}
	cfg.Period = time.Duration(periodSeconds) * time.Second

	cfg.ReferenceTimezone = getEnv("REFERENCE_TIMEZONE", "Asia/Kolkata")
	if _, err := time.LoadLocation(cfg.ReferenceTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("invalid REFERENCE_TIMEZONE: %v", err))
	}

	// Publication
	cfg.SubscriberQueueCapacity = getEnvAsInt("SUBSCRIBER_QUEUE_CAPACITY", 256)
	if cfg.SubscriberQueueCapacity <= 0 {
		errs = append(errs, "SUBSCRIBER_QUEUE_CAPACITY must be positive")
	}

	// Gateway
	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	// Candle recorder
	cfg.RecordCandles = getEnvAsBool("RECORD_CANDLES", false)
	cfg.DBPath = getEnv("DB_PATH", "./data/market_data.db")
	if cfg.RecordCandles && cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set when RECORD_CANDLES is enabled")
	}

	// Redis bridge
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisChannelPrefix = getEnv("REDIS_CHANNEL_PREFIX", "market_data")

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
