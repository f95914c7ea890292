// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	KafkaBrokers []string
	SignalsTopic string

	// Market data providers
	TiingoAPIKey       string
	AlphaVantageAPIKey string
	ProviderRateLimit  int // requests per minute against the primary provider

	// Broker credentials
	AlpacaAPIKey    string
	AlpacaAPISecret string
	OandaAPIKey     string
	OandaAccountID  string
	TradierAPIKey   string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// Execution archive (S3-compatible)
	ArchiveEnabled   bool
	ArchiveBucket    string
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveRegion    string

	DefaultDailyBudget float64
	WorkerCount        int
	Port               int
	LogLevel           string
	DevMode            bool

	Prefetch PrefetchConfig
}

// PrefetchConfig holds the data plane's fetch cadence settings.
type PrefetchConfig struct {
	Interval         time.Duration
	CandleDepth      int // 1m candles fetched per hot ticker
	BackfillDepth    int // daily candles fetched at end of day
	UniverseInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/tradewinds?sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvAsInt("REDIS_DB", 0),

		KafkaBrokers: getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		SignalsTopic: getEnv("KAFKA_SIGNALS_TOPIC", "signals"),

		TiingoAPIKey:       getEnv("TIINGO_API_KEY", ""),
		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
		ProviderRateLimit:  getEnvAsInt("PROVIDER_RATE_LIMIT", 500),

		AlpacaAPIKey:    getEnv("ALPACA_API_KEY", ""),
		AlpacaAPISecret: getEnv("ALPACA_API_SECRET", ""),
		OandaAPIKey:     getEnv("OANDA_API_KEY", ""),
		OandaAccountID:  getEnv("OANDA_ACCOUNT_ID", ""),
		TradierAPIKey:   getEnv("TRADIER_API_KEY", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		ArchiveEnabled:   getEnvAsBool("ARCHIVE_ENABLED", false),
		ArchiveBucket:    getEnv("ARCHIVE_BUCKET", ""),
		ArchiveEndpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
		ArchiveRegion:    getEnv("ARCHIVE_REGION", "auto"),

		DefaultDailyBudget: getEnvAsFloat("DEFAULT_DAILY_BUDGET", 10.0),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 4),
		Port:               getEnvAsInt("PORT", 8001),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),

		Prefetch: PrefetchConfig{
			Interval:         time.Duration(getEnvAsInt("PREFETCH_INTERVAL_SECONDS", 60)) * time.Second,
			CandleDepth:      getEnvAsInt("PREFETCH_CANDLE_DEPTH", 500),
			BackfillDepth:    getEnvAsInt("BACKFILL_DAILY_DEPTH", 400),
			UniverseInterval: time.Duration(getEnvAsInt("UNIVERSE_REFRESH_SECONDS", 300)) * time.Second,
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.ArchiveEnabled && c.ArchiveBucket == "" {
		return fmt.Errorf("ARCHIVE_BUCKET is required when ARCHIVE_ENABLED is set")
	}
	// Note: broker and provider credentials are optional; the fake broker
	// and cached data keep paper pipelines working without them.
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
