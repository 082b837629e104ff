package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/indiko7777/callsanta/internal/http/response"
	"github.com/indiko7777/callsanta/internal/observability"
	"github.com/indiko7777/callsanta/internal/security"
	"github.com/indiko7777/callsanta/internal/service"
)

const paymentEventDedupTTL = 24 * time.Hour

// PaymentWebhookHandler ingests the payment provider's events. After the
// signature check passes, the reply is always 200: a failure here would only
// make the provider redeliver an event we will handle idempotently anyway.
type PaymentWebhookHandler struct {
	fulfillment *service.FulfillmentService
	dedup       service.WebhookDedup
	secret      string
	logger      *slog.Logger
}

func NewPaymentWebhookHandler(fulfillment *service.FulfillmentService, dedup service.WebhookDedup, secret string, logger *slog.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{fulfillment: fulfillment, dedup: dedup, secret: secret, logger: logger}
}

type paymentEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

func (h *PaymentWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "unreadable body", nil)
		return
	}
	if !security.VerifyPayload(body, r.Header.Get("X-Webhook-Signature"), h.secret) {
		observability.RecordWebhookEvent(r.Context(), "payment", "any", "bad_signature")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid signature", nil)
		return
	}

	var event paymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}

	if event.ID != "" && h.dedup != nil {
		first, err := h.dedup.FirstSight(r.Context(), "payment", event.ID, paymentEventDedupTTL)
		if err != nil {
			// Dedup store down; the state machine still converges on replays.
			h.logger.WarnContext(r.Context(), "webhook dedup unavailable", "err", err)
		} else if !first {
			observability.RecordWebhookEvent(r.Context(), "payment", event.Type, "duplicate")
			response.JSON(w, r, http.StatusOK, map[string]any{"received": true})
			return
		}
	}

	paymentRef := event.Data.Object.ID
	switch event.Type {
	case "payment_intent.succeeded":
		err = h.fulfillment.HandlePaymentSucceeded(r.Context(), paymentRef)
	case "payment_intent.payment_failed":
		err = h.fulfillment.HandlePaymentFailed(r.Context(), paymentRef)
	default:
		observability.RecordWebhookEvent(r.Context(), "payment", event.Type, "ignored")
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "payment event processing failed",
			"event_type", event.Type, "payment_ref", paymentRef, "err", err)
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"received": true})
}
