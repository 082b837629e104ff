package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/indiko7777/callsanta/internal/config"
	"github.com/indiko7777/callsanta/internal/http/response"
	"github.com/indiko7777/callsanta/internal/repository"
	"github.com/indiko7777/callsanta/internal/service"
)

// VoiceHandler speaks the telephony provider's request/response protocol.
// Every reply is a 200 with an instruction document; an error status would
// leave the caller listening to dead air.
type VoiceHandler struct {
	fulfillment *service.FulfillmentService
	cfg         *config.Config
	logger      *slog.Logger
}

func NewVoiceHandler(fulfillment *service.FulfillmentService, cfg *config.Config, logger *slog.Logger) *VoiceHandler {
	return &VoiceHandler{fulfillment: fulfillment, cfg: cfg, logger: logger}
}

func (h *VoiceHandler) audio(name string) string {
	return strings.TrimSuffix(h.cfg.BaseURL, "/") + h.cfg.VoiceAudioBase + "/" + name
}

// Inbound handles the primary call-in flow: gather the code, validate it,
// bridge the caller to the agent stream.
func (h *VoiceHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		response.XML(w, newVoiceDoc().Say("Please try again later.").Hangup().String())
		return
	}
	digits := strings.TrimSpace(r.PostFormValue("Digits"))
	if digits == "" {
		doc := newVoiceDoc().
			GatherPlay("/webhooks/voice/inbound", h.cfg.CodeDigits, h.cfg.GatherTimeoutSec, h.audio("greeting.mp3")).
			Play(h.audio("timeout.mp3")).
			Hangup()
		response.XML(w, doc.String())
		return
	}

	order, err := h.fulfillment.Redeem(r.Context(), digits)
	if err != nil {
		// Unknown, used, and malformed codes all sound identical.
		h.logger.InfoContext(r.Context(), "inbound code rejected")
		response.XML(w, newVoiceDoc().Play(h.audio("invalid.mp3")).Hangup().String())
		return
	}

	doc := newVoiceDoc().
		Play(h.audio("success.mp3")).
		ConnectStream(h.agentStreamURL(order.PublicID, string(order.Overage)), order.MaxCallSeconds())
	response.XML(w, doc.String())
}

// agentStreamURL appends the session parameters the agent reads before it
// fetches the full context payload.
func (h *VoiceHandler) agentStreamURL(orderPublicID, overage string) string {
	base := h.cfg.AgentStreamURL
	params := url.Values{"order_id": {orderPublicID}, "overage": {overage}}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

// Return handles the second-call flow bought as an upgrade. The bridge is a
// SIP dial instead of a stream, with the order context in X- headers.
func (h *VoiceHandler) Return(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		response.XML(w, newVoiceDoc().Say("Please try again later.").Hangup().String())
		return
	}
	digits := strings.TrimSpace(r.PostFormValue("Digits"))
	if digits == "" {
		doc := newVoiceDoc().
			GatherPlay("/webhooks/voice/return", h.cfg.CodeDigits, h.cfg.GatherTimeoutSec, h.audio("greeting.mp3")).
			Play(h.audio("timeout.mp3")).
			Hangup()
		response.XML(w, doc.String())
		return
	}

	order, err := h.fulfillment.RedeemReturn(r.Context(), digits)
	if err != nil {
		h.logger.InfoContext(r.Context(), "return code rejected")
		response.XML(w, newVoiceDoc().Play(h.audio("invalid.mp3")).Hangup().String())
		return
	}

	callerPhone := strings.TrimSpace(r.PostFormValue("From"))
	callerID := h.cfg.ReturnCallerID
	if callerID == "" {
		callerID = callerPhone
	}
	code := ""
	if order.ReturnAccessCode != nil {
		code = *order.ReturnAccessCode
	}
	sipURI := fmt.Sprintf("%s?X-Access-Code=%s&X-Order-Id=%s&X-Customer-Phone=%s",
		h.cfg.ReturnSIPURI, url.QueryEscape(code), url.QueryEscape(order.PublicID), url.QueryEscape(callerPhone))

	doc := newVoiceDoc().
		Play(h.audio("success.mp3")).
		DialSIP(callerID, sipURI).
		Say("Ho ho ho! The connection to the North Pole was lost. Merry Christmas!")
	response.XML(w, doc.String())
}

// Status receives the provider's out-of-band end-of-call callback. The
// conversation webhook is the richer completion path; this one only carries
// duration, and loses cleanly to it on duplicates.
func (h *VoiceHandler) Status(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callStatus := r.PostFormValue("CallStatus")
	if callStatus != "completed" {
		w.WriteHeader(http.StatusOK)
		return
	}
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	ref := service.EventRef{CallerPhone: strings.TrimSpace(r.PostFormValue("From"))}
	err := h.fulfillment.CompleteFromEvent(r.Context(), ref, repository.CallArtifacts{DurationSeconds: duration})
	if err != nil && err != service.ErrNoOrderResolved {
		h.logger.WarnContext(r.Context(), "call status completion failed", "err", err)
	}
	// Always acknowledged; the provider has nothing useful to do with a retry.
	w.WriteHeader(http.StatusOK)
}
