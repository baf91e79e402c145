// Package config handles application configuration from environment variables
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Vault
	EncryptionKey string // Base64-encoded 32-byte AES key, required

	// Billing gateway
	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	// Currency normalization
	ReportingCurrency string // ISO 4217 code totals are normalized to
	RatesURL          string // Exchange-rate provider base URL
	RatesTTLHours     int64

	// Email notifications
	PostmarkToken string // Optional, past-due emails are skipped if not set
	MailFrom      string
	MailAPIURL    string

	// Observability
	OTLPEndpoint string // Optional, tracing is disabled if not set

	// Security
	RateLimitRPM int
	AdminSecret  string // Optional, plan administration routes are disabled if not set
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultReportingCurrency = "PLN"
	DefaultRatesURL          = "https://api.frankfurter.app"
	DefaultRatesTTLHours     = 24
	DefaultRateLimitRPM      = 120
	DefaultMailAPIURL        = "https://api.postmarkapp.com"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		EncryptionKey:       os.Getenv("ENCRYPTION_KEY"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/billing/success"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/billing/cancel"),
		ReportingCurrency:   getEnv("REPORTING_CURRENCY", DefaultReportingCurrency),
		RatesURL:            getEnv("RATES_URL", DefaultRatesURL),
		RatesTTLHours:       getEnvInt64("RATES_TTL_HOURS", DefaultRatesTTLHours),
		PostmarkToken:       os.Getenv("POSTMARK_TOKEN"),
		MailFrom:            getEnv("MAIL_FROM", "billing@projectledger.dev"),
		MailAPIURL:          getEnv("MAIL_API_URL", DefaultMailAPIURL),
		OTLPEndpoint:        os.Getenv("OTLP_ENDPOINT"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}
	if c.RatesTTLHours <= 0 {
		return fmt.Errorf("RATES_TTL_HOURS must be positive")
	}
	return nil
}

// EncryptionKeyBytes decodes the configured vault key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
