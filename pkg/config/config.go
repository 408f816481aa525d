package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trendline engine.
type Config struct {
	Port     string
	Language string // en, zh
	Version  string

	// Control surface
	APIRateLimit float64 // requests per second per client IP
	APIRateBurst int
	APITimeout   time.Duration

	// Storage
	DBPath        string
	CheckpointDir string
	ChartSeedFile string

	// Broker
	Broker          string // "paper" (default) or "alpaca"
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaBaseURL   string
	BrokerTimeout   time.Duration
	BrokerRateLimit float64 // requests per second
	PaperCash       float64

	// Price source
	PriceSource         string // "broker" (default) or "redis"
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisPriceKeyPrefix string
	PriceMaxAge         time.Duration

	// Scheduling
	MarketTimezone       string
	PriceMonitorInterval time.Duration
	StatusSyncInterval   time.Duration
	PriceRefreshInterval time.Duration
	MaxParallelBots      int
	DefaultTradeSize     float64

	// Reconnect supervisor
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	// Option contract policy
	OptionStrikeMinPct float64
	OptionStrikeMaxPct float64
	OptionTargetDays   int
	OptionMinDays      int
	OptionMaxDays      int
	OptionStrikeSteps  []float64

	// Logging
	LogLevel      string
	LogOutput     string // console, file, both
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		Language:             getEnv("LANGUAGE", "en"),
		Version:              getEnv("APP_VERSION", "v1.0-dev"),
		APIRateLimit:         getEnvFloat("API_RATE_LIMIT", 20),
		APIRateBurst:         getEnvInt("API_RATE_BURST", 50),
		APITimeout:           getEnvDuration("API_TIMEOUT", 30*time.Second),
		DBPath:               getEnv("DB_PATH", "./data/trendline.db"),
		CheckpointDir:        getEnv("CHECKPOINT_DIR", "./data/checkpoints"),
		ChartSeedFile:        getEnv("CHART_SEED_FILE", ""),
		Broker:               strings.ToLower(getEnv("BROKER", "paper")),
		AlpacaAPIKey:         os.Getenv("ALPACA_API_KEY"),
		AlpacaAPISecret:      os.Getenv("ALPACA_API_SECRET"),
		AlpacaBaseURL:        getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		BrokerTimeout:        getEnvDuration("BROKER_CALL_TIMEOUT", 5*time.Second),
		BrokerRateLimit:      getEnvFloat("BROKER_RATE_LIMIT", 3),
		PaperCash:            getEnvFloat("PAPER_CASH", 100000),
		PriceSource:          strings.ToLower(getEnv("PRICE_SOURCE", "broker")),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisPriceKeyPrefix:  getEnv("REDIS_PRICE_KEY_PREFIX", "quote:last:"),
		PriceMaxAge:          getEnvDuration("PRICE_MAX_AGE", 10*time.Second),
		MarketTimezone:       getEnv("MARKET_TIMEZONE", "America/New_York"),
		PriceMonitorInterval: getEnvDuration("PRICE_MONITOR_INTERVAL", 30*time.Second),
		StatusSyncInterval:   getEnvDuration("STATUS_SYNC_INTERVAL", 30*time.Second),
		PriceRefreshInterval: getEnvDuration("PRICE_REFRESH_INTERVAL", 30*time.Second),
		MaxParallelBots:      getEnvInt("MAX_PARALLEL_BOTS", 8),
		DefaultTradeSize:     getEnvFloat("DEFAULT_TRADE_SIZE", 100),
		ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:    getEnvDuration("RECONNECT_MAX_DELAY", time.Minute),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 8),
		OptionStrikeMinPct:   getEnvFloat("OPTION_STRIKE_MIN_PCT", 0.90),
		OptionStrikeMaxPct:   getEnvFloat("OPTION_STRIKE_MAX_PCT", 0.95),
		OptionTargetDays:     getEnvInt("OPTION_TARGET_DAYS", 35),
		OptionMinDays:        getEnvInt("OPTION_MIN_DAYS", 20),
		OptionMaxDays:        getEnvInt("OPTION_MAX_DAYS", 60),
		OptionStrikeSteps:    parseFloats(getEnv("OPTION_STRIKE_STEPS", "5,2.5")),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogOutput:            getEnv("LOG_OUTPUT", "console"),
		LogFile:              getEnv("LOG_FILE", "./logs/trendline.log"),
		LogMaxSizeMB:         getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:        getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:        getEnvInt("LOG_MAX_AGE_DAYS", 14),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseFloats(val string) []float64 {
	var out []float64
	for _, p := range splitAndTrim(val) {
		if f, err := strconv.ParseFloat(p, 64); err == nil && f > 0 {
			out = append(out, f)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
