package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	JWTSecret   string
	AppURL      string

	LogLevel  string
	LogFormat string

	AdminBootstrapSecret string
	AuthRateLimit        float64

	Marketplace Marketplace
	Reaper      Reaper
	Fanout      Fanout
	Mail        Mail
}

// Marketplace holds the money and trust policy applied to requests and wallets.
type Marketplace struct {
	CommissionPercentage           decimal.Decimal
	WithdrawalCommissionPercentage decimal.Decimal
	MediaCommissionPercentage      decimal.Decimal
	TrustMinReputation             decimal.Decimal
	TrustWindow                    time.Duration
	AcceptWindow                   time.Duration
	RejectPenalty                  decimal.Decimal
	DefaultRadiusMeters            int
}

type Reaper struct {
	ExpireInterval  time.Duration
	ReleaseInterval time.Duration
	RefundInterval  time.Duration
	BatchSize       int
}

type Fanout struct {
	MaxUsers     int
	ActiveWindow time.Duration
}

// Mail selects the outbound email provider. Provider is "smtp", "plunk" or empty for none.
type Mail struct {
	Provider         string
	ReplyTo          string
	SMTPHost         string
	SMTPPort         string
	SMTPUsername     string
	SMTPPassword     string
	SMTPFrom         string
	PlunkAPIKey      string
	PlunkFrom        string
	PlunkAPIURL      string
	PasswordResetTTL time.Duration
}

// Load reads configuration from the environment, after loading a .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          getEnv("DATABASE_URL", dsnFromParts()),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		AppURL:               getEnv("APP_URL", "http://localhost:3000"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		AdminBootstrapSecret: getEnv("ADMIN_BOOTSTRAP_SECRET", ""),
	}

	var err error
	if cfg.AuthRateLimit, err = getFloat("AUTH_RATE_LIMIT", 20); err != nil {
		return nil, err
	}

	m := &cfg.Marketplace
	if m.CommissionPercentage, err = getDecimal("COMMISSION_PERCENTAGE", "15.00"); err != nil {
		return nil, err
	}
	if m.WithdrawalCommissionPercentage, err = getDecimal("WITHDRAWAL_COMMISSION_PERCENTAGE", "15.00"); err != nil {
		return nil, err
	}
	if m.MediaCommissionPercentage, err = getDecimal("MEDIA_COMMISSION_PERCENTAGE", "15.00"); err != nil {
		return nil, err
	}
	if m.TrustMinReputation, err = getDecimal("TRUST_MIN_REPUTATION", "4.0"); err != nil {
		return nil, err
	}
	if m.RejectPenalty, err = getDecimal("REJECT_PENALTY", "0.1"); err != nil {
		return nil, err
	}
	if m.TrustWindow, err = getDuration("TRUST_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if m.AcceptWindow, err = getDuration("ACCEPT_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if m.DefaultRadiusMeters, err = getInt("DEFAULT_RADIUS_METERS", 500); err != nil {
		return nil, err
	}

	r := &cfg.Reaper
	if r.ExpireInterval, err = getDuration("REAPER_EXPIRE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if r.ReleaseInterval, err = getDuration("REAPER_RELEASE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if r.RefundInterval, err = getDuration("REAPER_REFUND_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if r.BatchSize, err = getInt("REAPER_BATCH_SIZE", 100); err != nil {
		return nil, err
	}

	f := &cfg.Fanout
	if f.MaxUsers, err = getInt("FANOUT_MAX_USERS", 100); err != nil {
		return nil, err
	}
	if f.ActiveWindow, err = getDuration("FANOUT_ACTIVE_WINDOW", 30*time.Minute); err != nil {
		return nil, err
	}

	cfg.Mail = Mail{
		Provider:     getEnv("MAIL_PROVIDER", ""),
		ReplyTo:      getEnv("MAIL_REPLY_TO", ""),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "465"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		PlunkAPIKey:  getEnv("PLUNK_API_KEY", ""),
		PlunkFrom:    getEnv("PLUNK_FROM", ""),
		PlunkAPIURL:  getEnv("PLUNK_API_URL", "https://api.useplunk.com/v1/send"),
	}
	if cfg.Mail.Provider == "" && cfg.Mail.PlunkAPIKey != "" {
		cfg.Mail.Provider = "plunk"
	}
	if cfg.Mail.PasswordResetTTL, err = getDuration("PASSWORD_RESET_TTL", 30*time.Minute); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}
	return cfg, nil
}

// dsnFromParts keeps the DB_* variables working for deployments that predate DATABASE_URL.
func dsnFromParts() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "nearhub"),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDecimal(key, defaultValue string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
