package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/indiko7777/callsanta/internal/http/response"
	"github.com/indiko7777/callsanta/internal/observability"
	"github.com/indiko7777/callsanta/internal/repository"
	"github.com/indiko7777/callsanta/internal/security"
	"github.com/indiko7777/callsanta/internal/service"
)

// ConversationWebhookHandler receives the voice agent platform's post-call
// events and context requests. Post-call events arrive with partial
// identifiers; the reconciler sorts out which order they belong to.
type ConversationWebhookHandler struct {
	fulfillment *service.FulfillmentService
	secret      string
	logger      *slog.Logger
}

func NewConversationWebhookHandler(fulfillment *service.FulfillmentService, secret string, logger *slog.Logger) *ConversationWebhookHandler {
	return &ConversationWebhookHandler{fulfillment: fulfillment, secret: secret, logger: logger}
}

type conversationEvent struct {
	Data *conversationPayload `json:"data"`
	conversationPayload
}

type conversationPayload struct {
	ConversationID string            `json:"conversation_id"`
	Transcript     string            `json:"transcript"`
	AudioURL       string            `json:"audio_url"`
	DurationSecs   int               `json:"duration_secs"`
	CallerID       string            `json:"caller_id"`
	Metadata       map[string]string `json:"metadata"`
	PhoneCall      *struct {
		ExternalNumber string `json:"external_number"`
	} `json:"phone_call"`
}

func (p *conversationPayload) metadataValue(key string) string {
	for k, v := range p.Metadata {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// SaveCallData is the post-call event: artifacts plus whatever identifiers
// the platform managed to attach. Always acknowledged; a retried delivery of
// an unresolvable event stays unresolvable.
func (h *ConversationWebhookHandler) SaveCallData(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		response.JSON(w, r, http.StatusOK, map[string]any{"status": "received"})
		return
	}
	if !security.VerifyPayload(body, r.Header.Get("X-Signature"), h.secret) {
		observability.RecordWebhookEvent(r.Context(), "conversation", "call_ended", "bad_signature")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid signature", nil)
		return
	}

	var event conversationEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.WarnContext(r.Context(), "unparseable conversation event", "err", err)
		response.JSON(w, r, http.StatusOK, map[string]any{"status": "received"})
		return
	}
	payload := &event.conversationPayload
	if event.Data != nil {
		payload = event.Data
	}

	callerPhone := payload.CallerID
	if callerPhone == "" && payload.PhoneCall != nil {
		callerPhone = payload.PhoneCall.ExternalNumber
	}
	if callerPhone == "" {
		callerPhone = r.URL.Query().Get("x-customer-phone")
	}
	orderID := payload.metadataValue("x-order-id")
	if orderID == "" {
		orderID = r.URL.Query().Get("x-order-id")
	}
	ref := service.EventRef{
		ConversationID: payload.ConversationID,
		AccessCode:     payload.metadataValue("x-access-code"),
		OrderPublicID:  orderID,
		CallerPhone:    callerPhone,
	}
	artifacts := repository.CallArtifacts{
		AudioURL:        payload.AudioURL,
		Transcript:      payload.Transcript,
		DurationSeconds: payload.DurationSecs,
	}

	if err := h.fulfillment.CompleteFromEvent(r.Context(), ref, artifacts); err != nil {
		if errors.Is(err, service.ErrNoOrderResolved) {
			h.logger.WarnContext(r.Context(), "conversation event dropped, no order resolved",
				"conversation_id", payload.ConversationID)
		} else {
			h.logger.ErrorContext(r.Context(), "conversation event processing failed",
				"conversation_id", payload.ConversationID, "err", err)
		}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "received"})
}

type contextRequest struct {
	CallID   string `json:"call_id"`
	CallerID string `json:"caller_id"`
	AgentID  string `json:"agent_id"`
}

// CallContext serves the agent's personalization tool call. The reply is the
// bare payload, not the API envelope: the agent platform feeds it straight
// into prompt variables.
func (h *ConversationWebhookHandler) CallContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	ref := service.EventRef{ConversationID: req.CallID, CallerPhone: req.CallerID}
	cc, err := h.fulfillment.BuildCallContext(r.Context(), ref)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		// An empty object tells the agent to run without personalization.
		_, _ = w.Write([]byte("{}"))
		return
	}
	_ = json.NewEncoder(w).Encode(cc)
}
