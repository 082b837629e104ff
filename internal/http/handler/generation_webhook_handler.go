package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/indiko7777/callsanta/internal/http/response"
	"github.com/indiko7777/callsanta/internal/security"
	"github.com/indiko7777/callsanta/internal/service"
)

// GenerationWebhookHandler receives push notifications from the video
// provider. The poll path can pick up anything dropped here, so acknowledging
// is always safe.
type GenerationWebhookHandler struct {
	video  *service.VideoService
	secret string
	logger *slog.Logger
}

func NewGenerationWebhookHandler(video *service.VideoService, secret string, logger *slog.Logger) *GenerationWebhookHandler {
	return &GenerationWebhookHandler{video: video, secret: secret, logger: logger}
}

type generationEvent struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url"`
	Detail   string `json:"detail"`
}

func (h *GenerationWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		response.JSON(w, r, http.StatusOK, map[string]any{"received": true})
		return
	}
	if !security.VerifyPayload(body, r.Header.Get("X-Signature"), h.secret) {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid signature", nil)
		return
	}
	var event generationEvent
	if err := json.Unmarshal(body, &event); err != nil || event.JobID == "" {
		response.JSON(w, r, http.StatusOK, map[string]any{"received": true})
		return
	}

	status := service.JobStatus{State: service.JobProcessing}
	switch event.Status {
	case "completed":
		status = service.JobStatus{State: service.JobCompleted, ResultURL: event.VideoURL}
	case "failed":
		status = service.JobStatus{State: service.JobFailed, Detail: event.Detail}
	}
	if err := h.video.HandleJobCallback(r.Context(), event.JobID, status); err != nil {
		if errors.Is(err, service.ErrUnknownJob) {
			h.logger.WarnContext(r.Context(), "generation callback for unknown job", "job_id", event.JobID)
		} else {
			h.logger.ErrorContext(r.Context(), "generation callback failed", "job_id", event.JobID, "err", err)
		}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"received": true})
}
