package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the bot suite processes.
type Config struct {
	Version   string
	Log       LogConfig
	Database  DatabaseConfig
	Telegram  TelegramConfig
	Access    AccessConfig
	LLM       LLMConfig
	Payment   PaymentConfig
	Admin     AdminConfig
	Telemetry TelemetryConfig

	CatalogPath     string
	JanitorInterval time.Duration
}

type LogConfig struct {
	Level  string
	Format string // "console" or "json"
}

type DatabaseConfig struct {
	Driver         string // "sqlite" or "pgx"
	URL            string
	MaxConnections int
	ConnectTimeout time.Duration
}

type TelegramConfig struct {
	BotToken        string
	CashierBotToken string
	BotName         string // target identifier served by this unpack-bot instance
	CashierURL      string // offered to users who want access to sibling bots
	SendTimeout     time.Duration
	PollTimeout     int
	SendsPerSec     float64
}

type AccessConfig struct {
	AdminIDs []int64
	TokenTTL time.Duration
}

type LLMConfig struct {
	Provider string // openai, anthropic, ollama
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

type PaymentConfig struct {
	MerchantLogin string
	Password1     string
	Test          bool
}

type AdminConfig struct {
	Port          int
	APIKeys       []string
	WebhookURL    string
	WebhookSecret string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	// SampleRatio is the share of root traces kept, in [0, 1].
	SampleRatio  float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Version: envStr("BOTSUITE_VERSION", "0.4.0"),
		Log: LogConfig{
			Level:  envStr("LOG_LEVEL", "info"),
			Format: envStr("LOG_FORMAT", "console"),
		},
		Database: DatabaseConfig{
			Driver:         envStr("DATABASE_DRIVER", "sqlite"),
			URL:            envStr("DATABASE_URL", "botsuite.db"),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 10),
			ConnectTimeout: envDuration("DATABASE_CONNECT_TIMEOUT", 2*time.Minute),
		},
		Telegram: TelegramConfig{
			BotToken:        envStr("BOT_TOKEN", ""),
			CashierBotToken: envStr("CASHIER_BOT_TOKEN", ""),
			BotName:         envStr("BOT_NAME", "unpack"),
			CashierURL:      envStr("CASHIER_URL", ""),
			SendTimeout:     envDuration("TELEGRAM_SEND_TIMEOUT", 15*time.Second),
			PollTimeout:     envInt("TELEGRAM_POLL_TIMEOUT", 30),
			SendsPerSec:     envFloat("TELEGRAM_SENDS_PER_SEC", 25),
		},
		Access: AccessConfig{
			AdminIDs: envInt64List("ADMIN_IDS"),
			TokenTTL: envDuration("TOKEN_TTL", 72*time.Hour),
		},
		LLM: LLMConfig{
			Provider: envStr("LLM_PROVIDER", "openai"),
			Endpoint: envStr("LLM_ENDPOINT", ""),
			APIKey:   envStr("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:    envStr("LLM_MODEL", "gpt-3.5-turbo"),
			Timeout:  envDuration("LLM_TIMEOUT", 45*time.Second),
		},
		Payment: PaymentConfig{
			MerchantLogin: envStr("ROBOKASSA_LOGIN", ""),
			Password1:     envStr("ROBOKASSA_PASSWORD1", ""),
			Test:          envBool("ROBOKASSA_TEST", false),
		},
		Admin: AdminConfig{
			Port:          envInt("ADMIN_HTTP_PORT", 8080),
			APIKeys:       envList("ADMIN_API_KEYS"),
			WebhookURL:    envStr("ADMIN_WEBHOOK_URL", ""),
			WebhookSecret: envStr("ADMIN_WEBHOOK_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "botsuite"),
			SampleRatio:  envFloat("OTEL_SAMPLE_RATIO", 1),
		},
		CatalogPath:     envStr("CATALOG_PATH", "catalog.yaml"),
		JanitorInterval: envDuration("JANITOR_INTERVAL", time.Hour),
	}
}

// IsAdmin reports whether id is one of the configured administrators.
func (c AccessConfig) IsAdmin(id int64) bool {
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt64List(key string) []int64 {
	var out []int64
	for _, part := range envList(key) {
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
