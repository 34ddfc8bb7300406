package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"keychat_go_backend/internal/models"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Port            string
	AppEnv          string
	LogLevel        string
	DatabaseURL     string
	SessionSecret   []byte
	SessionTTL      time.Duration
	AllowedOrigins  []string
	OpenAIBaseURL   string
	UpstreamTimeout time.Duration
	Models          *models.ModelCatalog
}

func NewConfig() *Config {
	return &Config{
		Port:            "5000",
		AppEnv:          "development",
		LogLevel:        "info",
		DatabaseURL:     "keychat_dev.db",
		SessionTTL:      24 * time.Hour,
		AllowedOrigins:  []string{"http://localhost:5173"},
		OpenAIBaseURL:   "https://api.openai.com/v1/",
		UpstreamTimeout: 2 * time.Minute,
		Models:          models.DefaultModelCatalog(),
	}
}

// Load overlays environment variables on the defaults. The .env file, if any,
// must already be loaded by the caller.
func Load() (*Config, error) {
	cfg := NewConfig()

	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.AppEnv = getEnvOrDefault("APP_ENV", cfg.AppEnv)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.OpenAIBaseURL = getEnvOrDefault("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		if cfg.AppEnv == "production" {
			return nil, fmt.Errorf("SESSION_SECRET must be set in production")
		}
		log.Warn().Msg("SESSION_SECRET not set, using an insecure development secret")
		secret = "dev-secret-change-this-in-production"
	}
	cfg.SessionSecret = []byte(secret)

	var err error
	if cfg.SessionTTL, err = getEnvAsDuration("SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout, err = getEnvAsDuration("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout); err != nil {
		return nil, err
	}

	if path := os.Getenv("MODELS_CONFIG"); path != "" {
		catalog, err := models.LoadModelCatalog(path)
		if err != nil {
			return nil, err
		}
		cfg.Models = catalog
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
