package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Binance market data
	BinanceRESTURL string
	BinanceWSURL   string
	Symbol         string
	Interval       string
	WarmupBars     int

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	HTTPAddr      string

	// Alerts
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
	AlertMaxAge      time.Duration

	// Operator control endpoints; empty disables the TOTP gate
	ControlTOTPSecret string

	LogLevel     string
	StrategyFile string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BinanceRESTURL: getEnv("BINANCE_REST_URL", "https://api.binance.com"),
		BinanceWSURL:   getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws"),
		Symbol:         strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		Interval:       getEnv("INTERVAL", "1h"),
		WarmupBars:     getEnvInt("WARMUP_BARS", 500),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8000"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		AlertMaxAge:      time.Duration(getEnvInt("ALERT_MAX_AGE_SEC", 30)) * time.Second,

		ControlTOTPSecret: getEnv("CONTROL_TOTP_SECRET", ""),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StrategyFile: getEnv("STRATEGY_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
