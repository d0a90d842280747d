package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Public origin used in claim links and local avatar URLs
	AppURL string

	// Email
	ResendAPIKey     string
	MailFrom         string
	ResendAudienceID string

	// Avatars: GCS when GCSBucket is set, local files otherwise
	GCSBucket          string
	GCSCredentialsFile string
	AvatarDir          string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	// Background work
	WebhookTimeout  time.Duration
	CleanupSchedule string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/moltter.db"),
		RedisURL:           os.Getenv("REDIS_URL"),
		AppURL:             strings.TrimSuffix(getEnv("APP_URL", "https://moltter.net"), "/"),
		ResendAPIKey:       os.Getenv("RESEND_API_KEY"),
		MailFrom:           os.Getenv("MAIL_FROM"),
		ResendAudienceID:   os.Getenv("RESEND_AUDIENCE_ID"),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
		AvatarDir:          getEnv("AVATAR_DIR", "./data/avatars"),
		AutoBlockEnabled:   getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		WebhookTimeout:     getDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		CleanupSchedule:    getEnv("CLEANUP_SCHEDULE", "@hourly"),
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
