package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Application base URL (for email links and checkout redirects)
	BaseURL string

	// Entitlement configuration
	AdminEmails    []string // Email addresses with unlimited access, normalized lower-case
	FreeDailyLimit int      // Analyses per UTC day for free-tier accounts
	ReferralBonus  int      // Credits granted to each side of a redemption

	// Upload limits
	MaxUploadBytes int64

	// SMTP Configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string
	LocalStorageURL  string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string

	// AI Provider Configuration
	AIProvider       string // "openai" or "mock"
	OpenAIAPIKey     string
	OpenAIModel      string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Stripe Billing Configuration
	// These are required when billing is enabled in production.
	// In development, billing handlers function as stubs if these are empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for subscription plans
	StripeWeeklyPriceID  string
	StripeMonthlyPriceID string

	// Maintenance worker
	JanitorEnabled  bool
	JanitorInterval time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Base URL defaults to localhost for development
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// Entitlement defaults
		FreeDailyLimit: getEnvInt("FREE_DAILY_LIMIT", 2),
		ReferralBonus:  getEnvInt("REFERRAL_BONUS_CREDITS", 2),

		// Upload default: 5MB
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 5*1024*1024)),

		// SMTP defaults for Mailhog (development)
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@thisreply.app"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "ThisReply"),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),

		// AI provider defaults
		AIProvider:       getEnv("AI_PROVIDER", "mock"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4.1-nano"),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),

		// Stripe billing is optional; leaving the key empty disables it
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		// Stripe price IDs, required when billing is enabled
		StripeWeeklyPriceID:  getEnv("STRIPE_WEEKLY_PRICE_ID", ""),
		StripeMonthlyPriceID: getEnv("STRIPE_MONTHLY_PRICE_ID", ""),

		// Maintenance worker defaults
		JanitorEnabled:  getEnvBool("JANITOR_ENABLED", true),
		JanitorInterval: getEnvDuration("JANITOR_INTERVAL", 1*time.Hour),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Parse admin emails from comma-separated environment variable
	adminEmailsStr := getEnv("ADMIN_EMAILS", "")
	if adminEmailsStr != "" {
		emails := strings.Split(adminEmailsStr, ",")
		for _, email := range emails {
			trimmed := strings.TrimSpace(strings.ToLower(email))
			if trimmed != "" {
				cfg.AdminEmails = append(cfg.AdminEmails, trimmed)
			}
		}
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.FreeDailyLimit < 0 {
		return nil, fmt.Errorf("FREE_DAILY_LIMIT must be non-negative, got: %d", cfg.FreeDailyLimit)
	}

	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	// Validate AI provider configuration
	if cfg.AIProvider == "openai" {
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is 'openai'")
		}
	} else if cfg.AIProvider != "mock" {
		return nil, fmt.Errorf("AI_PROVIDER must be either 'openai' or 'mock', got: %s", cfg.AIProvider)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
