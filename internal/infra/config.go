package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string
	StoragePath string

	// Render pipeline
	WorkerCount      int
	QueueCapacity    int
	PerUserCap       int
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	ProviderTimeout  time.Duration
	DefaultModelKey  string
	RenderCostCredit int

	// Providers
	ReplicateAPIToken string
	ReplicateBaseURL  string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIImageModel  string

	// Billing
	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	BalanceSyncTimeout  time.Duration
	BalanceStalenessTTL time.Duration

	// HTTP
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		StoragePath: getEnv("STORAGE_PATH", "./data"),

		WorkerCount:      getEnvInt("RENDER_WORKERS", 2),
		QueueCapacity:    getEnvInt("RENDER_QUEUE_CAPACITY", 32),
		PerUserCap:       getEnvInt("RENDER_PER_USER_CAP", 4),
		MaxAttempts:      getEnvInt("RENDER_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   time.Second * time.Duration(getEnvInt("RENDER_RETRY_BASE_SECONDS", 2)),
		RetryMaxDelay:    time.Second * time.Duration(getEnvInt("RENDER_RETRY_MAX_SECONDS", 30)),
		ProviderTimeout:  time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 60)),
		DefaultModelKey:  getEnv("DEFAULT_MODEL_KEY", "replicate:sdxl"),
		RenderCostCredit: getEnvInt("RENDER_COST_CREDITS", 1),

		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIImageModel:  getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:8080/success"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", "http://localhost:8080/cancel"),
		BalanceSyncTimeout:  time.Second * time.Duration(getEnvInt("BALANCE_SYNC_TIMEOUT_SECONDS", 10)),
		BalanceStalenessTTL: time.Second * time.Duration(getEnvInt("BALANCE_STALENESS_SECONDS", 300)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("RENDER_WORKERS must be at least 1")
	}
	if cfg.QueueCapacity < 1 {
		return nil, fmt.Errorf("RENDER_QUEUE_CAPACITY must be at least 1")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("RENDER_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
