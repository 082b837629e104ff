package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/indiko7777/callsanta/internal/http/handler"
	"github.com/indiko7777/callsanta/internal/http/middleware"
	"github.com/indiko7777/callsanta/internal/http/response"
)

// Dependencies is everything the router mounts. The DI layer fills it in;
// tests fill in only what the route under test touches.
type Dependencies struct {
	Checkout     *handler.CheckoutHandler
	Orders       *handler.OrderHandler
	Voice        *handler.VoiceHandler
	Payment      *handler.PaymentWebhookHandler
	Conversation *handler.ConversationWebhookHandler
	Generation   *handler.GenerationWebhookHandler

	Limiter         middleware.Limiter
	APIRateLimitRPM int
	Logger          *slog.Logger
}

func New(dep Dependencies) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	if dep.Limiter != nil && dep.APIRateLimitRPM > 0 {
		bypass := middleware.NewRequestBypassEvaluator(middleware.RequestBypassConfig{
			EnableProbeBypass:   true,
			EnableWebhookBypass: true,
		})
		rl := middleware.NewRateLimiter(dep.Limiter, dep.APIRateLimitRPM, time.Minute,
			middleware.FailOpen, "api", bypass, dep.Logger)
		r.Use(rl.Middleware())
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", dep.Checkout.Create)
		r.Post("/upgrades", dep.Checkout.CreateUpgrade)

		r.Get("/orders", dep.Orders.Details)
		r.Get("/orders/{id}/media", dep.Orders.Media)
		r.Get("/orders/{id}/video", dep.Orders.VideoStatus)
		r.Post("/orders/{id}/video/fulfill", dep.Orders.FulfillVideo)
		r.Post("/orders/{id}/recording", dep.Orders.UploadRecording)
		r.Get("/upgrades/{id}/success", dep.Orders.UpgradeSuccess)
		r.Get("/admin/orders", dep.Orders.ListOrders)

		r.Get("/personalization", dep.Orders.GetPersonalization)
		r.Post("/personalization", dep.Orders.SavePersonalization)
		r.Post("/magic-link", dep.Orders.SendMagicLink)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/payment", dep.Payment.Handle)
		r.Post("/voice/inbound", dep.Voice.Inbound)
		r.Post("/voice/return", dep.Voice.Return)
		r.Post("/voice/status", dep.Voice.Status)
		r.Post("/conversation", dep.Conversation.SaveCallData)
		r.Post("/conversation/context", dep.Conversation.CallContext)
		r.Post("/generation", dep.Generation.Handle)
	})

	return r
}
