package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. Cadences and batch sizes for
// the delivery workers live here so deployments can tune them without code
// changes; the defaults mirror the production schedule.
type Config struct {
	Addr        string
	DatabaseURL string
	Redis       RedisConfig

	JWTSigningKey string

	SMTP     SMTPConfig
	Telegram TelegramConfig

	Workers WorkerConfig
}

// RedisConfig controls the Redis connection used for Telegram account-link
// codes. An empty URL disables Redis entirely.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SMTPConfig is the sending account for email notifications. An empty Host
// means no account is configured; the email worker reports that per item
// instead of failing the process.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// TelegramConfig holds the bot token used for outbound messages and the TTL
// for account-link codes.
type TelegramConfig struct {
	BotToken    string
	LinkCodeTTL time.Duration
}

// WorkerConfig holds the periodic job schedule and per-run limits.
type WorkerConfig struct {
	EmailInterval         time.Duration
	TelegramInterval      time.Duration
	RetrySweepInterval    time.Duration
	QualificationInterval time.Duration
	BatchSize             int
	SendTimeout           time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:          envOr("MGC_AUDITS_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("MAIL_SERVER"),
			Port:     envIntOr("MAIL_PORT", 587),
			Username: os.Getenv("MAIL_USERNAME"),
			Password: os.Getenv("MAIL_PASSWORD"),
			From:     os.Getenv("MAIL_FROM"),
			FromName: envOr("MAIL_FROM_NAME", "MGC Audits"),
		},
		Telegram: TelegramConfig{
			BotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
			LinkCodeTTL: envDurationOr("TELEGRAM_LINK_CODE_TTL", 10*time.Minute),
		},
		Workers: WorkerConfig{
			EmailInterval:         envDurationOr("WORKER_EMAIL_INTERVAL", 60*time.Second),
			TelegramInterval:      envDurationOr("WORKER_TELEGRAM_INTERVAL", 60*time.Second),
			RetrySweepInterval:    envDurationOr("WORKER_RETRY_SWEEP_INTERVAL", 300*time.Second),
			QualificationInterval: envDurationOr("WORKER_QUALIFICATION_INTERVAL", 24*time.Hour),
			BatchSize:             envIntOr("WORKER_BATCH_SIZE", 50),
			SendTimeout:           envDurationOr("WORKER_SEND_TIMEOUT", 5*time.Second),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
