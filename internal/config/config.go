// Package config loads and validates the service's environment
// configuration. There is no config file and no config library: every
// setting is an environment variable, read once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/prsentry/prsentry/internal/apperrors"
)

// Config holds every environment-derived setting the daemon reads.
type Config struct {
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	PlatformAppID         int64
	PlatformPrivateKey    string
	PlatformWebhookSecret string
	PlatformAPIBaseURL    string

	GenModelAPIKey         string
	GenModelModel          string
	GenModelBaseURL        string
	GenModelTimeoutSeconds int

	ChatEnabled       bool
	ChatWebhookURL    string
	ChatRiskThreshold int
	DashboardBaseURL  string
	FrontendBaseURL   string

	// PlatformOAuthClientID, PlatformOAuthClientSecret and JWTSecret are
	// read and validated here but not used by this process; they're
	// provisioned alongside the rest of the platform credentials and
	// consumed by the out-of-scope end-user login collaborator.
	PlatformOAuthClientID     string
	PlatformOAuthClientSecret string
	JWTSecret                 string

	Port              string
	WorkerConcurrency int
	LogLevel          string
	MigrationsPath    string
}

// getEnv reads an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

// Load reads the environment and returns a validated Config, or a
// ConfigMissing AppError describing the first problem found.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),

		PlatformPrivateKey:    readPrivateKey(),
		PlatformWebhookSecret: os.Getenv("PLATFORM_WEBHOOK_SECRET"),
		PlatformAPIBaseURL:    getEnv("PLATFORM_API_BASE_URL", "https://api.github.com"),

		GenModelAPIKey:         os.Getenv("GENMODEL_API_KEY"),
		GenModelModel:          os.Getenv("GENMODEL_MODEL"),
		GenModelBaseURL:        getEnv("GENMODEL_BASE_URL", "https://api.openai.com/v1"),
		GenModelTimeoutSeconds: getEnvInt("GENMODEL_TIMEOUT_SECONDS", 20),

		ChatEnabled:       getEnvBool("CHAT_ENABLED", false),
		ChatWebhookURL:    os.Getenv("CHAT_WEBHOOK_URL"),
		ChatRiskThreshold: getEnvInt("CHAT_RISK_THRESHOLD", 60),
		DashboardBaseURL:  os.Getenv("APP_BASE_URL"),
		FrontendBaseURL:   os.Getenv("FRONTEND_BASE_URL"),

		PlatformOAuthClientID:     os.Getenv("PLATFORM_OAUTH_CLIENT_ID"),
		PlatformOAuthClientSecret: os.Getenv("PLATFORM_OAUTH_CLIENT_SECRET"),
		JWTSecret:                 os.Getenv("JWT_SECRET"),

		Port:              getEnv("PORT", "8080"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", "internal/store/migrations"),
	}

	if appID := os.Getenv("PLATFORM_APP_ID"); appID != "" {
		id, err := strconv.ParseInt(appID, 10, 64)
		if err != nil {
			return nil, apperrors.New(apperrors.ConfigMissing, "PLATFORM_APP_ID is not a valid integer")
		}
		cfg.PlatformAppID = id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readPrivateKey accepts either the PEM contents inline or a path to a
// file containing them, matching how GitHub App credentials are usually
// injected into a container (secret mount vs. literal env var).
func readPrivateKey() string {
	if inline := os.Getenv("PLATFORM_PRIVATE_KEY"); inline != "" {
		return inline
	}
	path := os.Getenv("PLATFORM_PRIVATE_KEY_PATH")
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// validate asserts the required variables are present.
func (c *Config) validate() error {
	var missing []string

	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.PlatformAppID == 0 {
		missing = append(missing, "PLATFORM_APP_ID")
	}
	if c.PlatformPrivateKey == "" {
		missing = append(missing, "PLATFORM_PRIVATE_KEY or PLATFORM_PRIVATE_KEY_PATH")
	}
	if c.ChatEnabled && c.ChatWebhookURL == "" {
		missing = append(missing, "CHAT_WEBHOOK_URL (required because CHAT_ENABLED=true)")
	}
	if c.PlatformOAuthClientID == "" {
		missing = append(missing, "PLATFORM_OAUTH_CLIENT_ID")
	}
	if c.PlatformOAuthClientSecret == "" {
		missing = append(missing, "PLATFORM_OAUTH_CLIENT_SECRET")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return apperrors.New(apperrors.ConfigMissing, fmt.Sprintf("missing required configuration: %s", strings.Join(missing, ", ")))
	}
	return nil
}
