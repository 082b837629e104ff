package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	BaseURL string

	// Voice channel.
	AgentStreamURL   string
	ReturnSIPURI     string
	ReturnCallerID   string
	VoiceAudioBase   string
	CodeDigits       int
	GatherTimeoutSec int
	PromoCode        string
	CallInNumber     string
	AdminAPIKey      string

	// Webhook authentication.
	PaymentWebhookSecret      string
	ConversationWebhookSecret string

	// Magic links for the personalization page.
	MagicLinkSecret string
	MagicLinkTTL    time.Duration

	// Generation collaborator.
	GenerationBaseURL       string
	GenerationAPIKey        string
	GenerationWebhookSecret string

	// Recording storage.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	EmailFrom    string
	EmailBaseURL string
	EmailAPIKey  string

	// Fulfillment tuning.
	PendingOrderTTL    time.Duration
	ReconcileWindow    time.Duration
	ReconcileMaxRecent int
	ExpirySweepEvery   time.Duration

	APIRateLimitPerMin int
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPPort:                  getEnv("HTTP_PORT", "8080"),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisURL:                  os.Getenv("REDIS_URL"),
		BaseURL:                   getEnv("BASE_URL", "http://localhost:8080"),
		AgentStreamURL:            os.Getenv("AGENT_STREAM_URL"),
		ReturnSIPURI:              os.Getenv("RETURN_SIP_URI"),
		ReturnCallerID:            os.Getenv("RETURN_CALLER_ID"),
		VoiceAudioBase:            getEnv("VOICE_AUDIO_BASE", "/audio"),
		CodeDigits:                getEnvInt("ACCESS_CODE_DIGITS", 4),
		GatherTimeoutSec:          getEnvInt("VOICE_GATHER_TIMEOUT_SEC", 8),
		PromoCode:                 os.Getenv("PROMO_CODE"),
		CallInNumber:              getEnv("CALL_IN_NUMBER", "1-555-SANTA"),
		AdminAPIKey:               os.Getenv("ADMIN_API_KEY"),
		PaymentWebhookSecret:      os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		ConversationWebhookSecret: os.Getenv("CONVERSATION_WEBHOOK_SECRET"),
		MagicLinkSecret:           os.Getenv("MAGIC_LINK_SECRET"),
		GenerationBaseURL:         os.Getenv("GENERATION_BASE_URL"),
		GenerationAPIKey:          os.Getenv("GENERATION_API_KEY"),
		GenerationWebhookSecret:   os.Getenv("GENERATION_WEBHOOK_SECRET"),
		MinioEndpoint:             os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:            os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:            os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:               getEnv("MINIO_BUCKET", "call-recordings"),
		MinioUseSSL:               getEnvBool("MINIO_USE_SSL", false),
		EmailFrom:                 getEnv("EMAIL_FROM", "santa@callsanta.us"),
		EmailBaseURL:              getEnv("EMAIL_BASE_URL", "https://api.sendgrid.com"),
		EmailAPIKey:               os.Getenv("EMAIL_API_KEY"),
		ReconcileMaxRecent:        getEnvInt("RECONCILE_MAX_RECENT", 10),
		APIRateLimitPerMin:        getEnvInt("API_RATE_LIMIT_PER_MIN", 120),
	}

	var err error
	if cfg.MagicLinkTTL, err = getEnvDuration("MAGIC_LINK_TTL", 72*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PendingOrderTTL, err = getEnvDuration("PENDING_ORDER_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReconcileWindow, err = getEnvDuration("RECONCILE_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ExpirySweepEvery, err = getEnvDuration("EXPIRY_SWEEP_EVERY", 10*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.MagicLinkSecret) < 16 {
		errs = append(errs, "MAGIC_LINK_SECRET must be at least 16 chars")
	}
	if c.CodeDigits < 4 || c.CodeDigits > 8 {
		errs = append(errs, "ACCESS_CODE_DIGITS must be between 4 and 8")
	}
	if c.PendingOrderTTL <= 0 {
		errs = append(errs, "PENDING_ORDER_TTL must be > 0")
	}
	if c.ReconcileWindow <= 0 {
		errs = append(errs, "RECONCILE_WINDOW must be > 0")
	}
	if c.ReconcileMaxRecent <= 0 {
		errs = append(errs, "RECONCILE_MAX_RECENT must be > 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
