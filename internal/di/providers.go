package di

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/indiko7777/callsanta/internal/app"
	"github.com/indiko7777/callsanta/internal/config"
	"github.com/indiko7777/callsanta/internal/database"
	"github.com/indiko7777/callsanta/internal/http/handler"
	"github.com/indiko7777/callsanta/internal/http/middleware"
	"github.com/indiko7777/callsanta/internal/http/router"
	"github.com/indiko7777/callsanta/internal/observability"
	"github.com/indiko7777/callsanta/internal/repository"
	"github.com/indiko7777/callsanta/internal/security"
	"github.com/indiko7777/callsanta/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(provideLogger)

var InfraSet = wire.NewSet(
	provideDB,
	provideRedis,
	provideRecordingStorage,
	provideNotifier,
	provideDedup,
	provideLimiter,
	provideGateway,
	provideGenerationClient,
)

var RepositorySet = wire.NewSet(repository.NewOrderRepository)

var SecuritySet = wire.NewSet(provideMagicLink)

var ServiceSet = wire.NewSet(
	provideCodeIssuer,
	provideReconciler,
	provideFulfillment,
	provideCheckout,
	service.NewUpgradeService,
	service.NewVideoService,
	provideReaper,
)

var HTTPSet = wire.NewSet(
	handler.NewCheckoutHandler,
	provideOrderHandler,
	handler.NewVoiceHandler,
	providePaymentWebhookHandler,
	provideConversationWebhookHandler,
	provideGenerationWebhookHandler,
	provideRouterDependencies,
	router.New,
	provideHTTPServer,
)

var AppSet = wire.NewSet(app.New)

func provideLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(cfg.Env, cfg.LogLevel)
}

func provideDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Handle(cfg.DatabaseURL)
}

func provideRedis(cfg *config.Config) (redis.UniversalClient, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func provideRecordingStorage(cfg *config.Config, logger *slog.Logger) (service.RecordingStorage, error) {
	if cfg.MinioEndpoint == "" {
		logger.Warn("recording storage disabled, MINIO_ENDPOINT not set")
		return service.NoopRecordingStorage{}, nil
	}
	return service.NewMinIORecordingStorage(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
}

func provideNotifier(cfg *config.Config, logger *slog.Logger) service.Notifier {
	if cfg.EmailAPIKey == "" {
		return service.NewDevNotifier(logger)
	}
	return service.NewHTTPNotifier(cfg.EmailBaseURL, cfg.EmailAPIKey, cfg.EmailFrom)
}

func provideDedup(client redis.UniversalClient) service.WebhookDedup {
	if client == nil {
		return service.NewMemoryWebhookDedup()
	}
	return service.NewRedisWebhookDedup(client, "webhook_seen")
}

func provideLimiter(client redis.UniversalClient) middleware.Limiter {
	if client == nil {
		return middleware.NewLocalFixedWindowLimiter()
	}
	return middleware.NewRedisFixedWindowLimiter(client, "rl")
}

func provideGateway(logger *slog.Logger) service.PaymentGateway {
	// The hosted provider's server SDK is isolated behind PaymentGateway;
	// swap the implementation here when wiring a real account.
	return service.NewDevPaymentGateway(logger)
}

func provideGenerationClient(cfg *config.Config) service.GenerationClient {
	return service.NewHTTPGenerationClient(cfg.GenerationBaseURL, cfg.GenerationAPIKey)
}

func provideMagicLink(cfg *config.Config) *security.MagicLink {
	return security.NewMagicLink(cfg.MagicLinkSecret, cfg.MagicLinkTTL)
}

func provideCodeIssuer(cfg *config.Config) *service.CodeIssuer {
	return service.NewCodeIssuer(cfg.CodeDigits)
}

func provideReconciler(orders repository.OrderRepository, issuer *service.CodeIssuer, logger *slog.Logger, cfg *config.Config) *service.Reconciler {
	return service.NewReconciler(orders, issuer, logger, cfg.ReconcileWindow, cfg.ReconcileMaxRecent)
}

func provideFulfillment(orders repository.OrderRepository, issuer *service.CodeIssuer, reconciler *service.Reconciler, notifier service.Notifier, logger *slog.Logger, cfg *config.Config) *service.FulfillmentService {
	return service.NewFulfillmentService(orders, issuer, reconciler, notifier, logger, cfg.CallInNumber)
}

func provideCheckout(orders repository.OrderRepository, gateway service.PaymentGateway, issuer *service.CodeIssuer, cfg *config.Config, logger *slog.Logger) *service.CheckoutService {
	return service.NewCheckoutService(orders, gateway, issuer, cfg.PromoCode, logger)
}

func provideReaper(orders repository.OrderRepository, cfg *config.Config, logger *slog.Logger) *service.ExpiryReaper {
	return service.NewExpiryReaper(orders, cfg.PendingOrderTTL, cfg.ExpirySweepEvery, logger)
}

func provideOrderHandler(orders repository.OrderRepository, video *service.VideoService, storage service.RecordingStorage, notifier service.Notifier, magicLink *security.MagicLink, cfg *config.Config, logger *slog.Logger) *handler.OrderHandler {
	return handler.NewOrderHandler(orders, video, storage, notifier, magicLink, cfg, logger)
}

func providePaymentWebhookHandler(fulfillment *service.FulfillmentService, dedup service.WebhookDedup, cfg *config.Config, logger *slog.Logger) *handler.PaymentWebhookHandler {
	return handler.NewPaymentWebhookHandler(fulfillment, dedup, cfg.PaymentWebhookSecret, logger)
}

func provideConversationWebhookHandler(fulfillment *service.FulfillmentService, cfg *config.Config, logger *slog.Logger) *handler.ConversationWebhookHandler {
	return handler.NewConversationWebhookHandler(fulfillment, cfg.ConversationWebhookSecret, logger)
}

func provideGenerationWebhookHandler(video *service.VideoService, cfg *config.Config, logger *slog.Logger) *handler.GenerationWebhookHandler {
	return handler.NewGenerationWebhookHandler(video, cfg.GenerationWebhookSecret, logger)
}

func provideRouterDependencies(
	checkout *handler.CheckoutHandler,
	orders *handler.OrderHandler,
	voice *handler.VoiceHandler,
	payment *handler.PaymentWebhookHandler,
	conversation *handler.ConversationWebhookHandler,
	generation *handler.GenerationWebhookHandler,
	limiter middleware.Limiter,
	cfg *config.Config,
	logger *slog.Logger,
) router.Dependencies {
	return router.Dependencies{
		Checkout:        checkout,
		Orders:          orders,
		Voice:           voice,
		Payment:         payment,
		Conversation:    conversation,
		Generation:      generation,
		Limiter:         limiter,
		APIRateLimitRPM: cfg.APIRateLimitPerMin,
		Logger:          logger,
	}
}

func provideHTTPServer(cfg *config.Config, r chi.Router) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
