package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port           string
	Env            string
	AllowedOrigins []string

	DatabaseURL string

	JWTSecret     string
	JWTAccessTTL  time.Duration
	BcryptCost    int
	MetricsToken  string
	AdminEmail    string
	AdminPassword string

	StripeSecretKey        string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	StripeTimeout          time.Duration
	WebhookMaxAttempts     int

	DefaultCommissionRate decimal.Decimal

	// Bot verification. Bypass is explicit; nothing inspects the environment for it.
	TurnstileSecret  string
	BotVerifyBypass  bool
	BotVerifyTimeout time.Duration

	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPassword      string
	EmailFrom         string
	NotifyMaxAttempts int
	NotifyInterval    time.Duration
	NotifyTimeout     time.Duration

	CloudflareAccountID string
	R2AccessKeyID       string
	R2AccessKeySecret   string
	R2Bucket            string

	RetentionPeriod time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "5300"),
		Env:            getEnv("APP_ENV", "development"),
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTAccessTTL:  getEnvAsDuration("JWT_ACCESS_TTL", 24*time.Hour),
		BcryptCost:    getEnvAsInt("BCRYPT_COST", 12),
		MetricsToken:  getEnv("METRICS_TOKEN", ""),
		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		StripeSecretKey:        getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: getEnvAsDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		StripeTimeout:          getEnvAsDuration("STRIPE_TIMEOUT", 10*time.Second),
		WebhookMaxAttempts:     getEnvAsInt("WEBHOOK_MAX_ATTEMPTS", 8),

		DefaultCommissionRate: getEnvAsDecimal("DEFAULT_COMMISSION_RATE", decimal.RequireFromString("0.10")),

		TurnstileSecret:  getEnv("TURNSTILE_SECRET", ""),
		BotVerifyBypass:  getEnvAsBool("BOT_VERIFY_BYPASS", false),
		BotVerifyTimeout: getEnvAsDuration("BOT_VERIFY_TIMEOUT", 5*time.Second),

		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:          getEnv("SMTP_USER", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		EmailFrom:         getEnv("EMAIL_FROM", "no-reply@treasurehunt.local"),
		NotifyMaxAttempts: getEnvAsInt("NOTIFY_MAX_ATTEMPTS", 5),
		NotifyInterval:    getEnvAsDuration("NOTIFY_INTERVAL", 15*time.Second),
		NotifyTimeout:     getEnvAsDuration("NOTIFY_TIMEOUT", 3*time.Second),

		CloudflareAccountID: getEnv("CLOUDFLARE_ACCOUNT_ID", ""),
		R2AccessKeyID:       getEnv("R2_ACCESS_KEY_ID", ""),
		R2AccessKeySecret:   getEnv("R2_ACCESS_KEY_SECRET", ""),
		R2Bucket:            getEnv("R2_BUCKET_NAME", ""),

		RetentionPeriod: getEnvAsDuration("RETENTION_PERIOD", 90*24*time.Hour),
	}
	return cfg
}

// Validate fails fast on settings the service cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if !c.BotVerifyBypass && c.TurnstileSecret == "" {
		missing = append(missing, "TURNSTILE_SECRET (or BOT_VERIFY_BYPASS=true)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.DefaultCommissionRate.IsNegative() || c.DefaultCommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("DEFAULT_COMMISSION_RATE must be between 0 and 1")
	}
	if c.WebhookMaxAttempts < 1 {
		return errors.New("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// R2Enabled reports whether webhook payload archiving is configured.
func (c *Config) R2Enabled() bool {
	return c.CloudflareAccountID != "" && c.R2AccessKeyID != "" && c.R2AccessKeySecret != "" && c.R2Bucket != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	strVal := getEnv(key, "")
	if val, err := strconv.ParseBool(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	strVal := getEnv(key, "")
	if val, err := strconv.Atoi(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	strVal := getEnv(key, "")
	if val, err := time.ParseDuration(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	strVal := getEnv(key, "")
	if val, err := decimal.NewFromString(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	val := getEnv(key, "")
	if val == "" {
		return defaultValue
	}
	parts := strings.Split(val, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
