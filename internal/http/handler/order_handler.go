package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/indiko7777/callsanta/internal/config"
	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/http/response"
	"github.com/indiko7777/callsanta/internal/repository"
	"github.com/indiko7777/callsanta/internal/security"
	"github.com/indiko7777/callsanta/internal/service"
)

// OrderHandler serves the storefront's order surface: success pages, media
// retrieval, personalization and the video delivery poll. Nothing here
// requires an account; authorization is the access code or a magic-link
// token.
type OrderHandler struct {
	orders    repository.OrderRepository
	video     *service.VideoService
	storage   service.RecordingStorage
	notifier  service.Notifier
	magicLink *security.MagicLink
	cfg       *config.Config
	logger    *slog.Logger
}

func NewOrderHandler(orders repository.OrderRepository, video *service.VideoService, storage service.RecordingStorage, notifier service.Notifier, magicLink *security.MagicLink, cfg *config.Config, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, video: video, storage: storage, notifier: notifier, magicLink: magicLink, cfg: cfg, logger: logger}
}

type orderDetails struct {
	OrderID     string `json:"order_id"`
	ChildName   string `json:"child_name"`
	Email       string `json:"parent_email"`
	ProductType string `json:"product_type"`
	AccessCode  string `json:"access_code,omitempty"`
	Overage     string `json:"overage_policy"`
	Status      string `json:"status"`
	VideoStatus string `json:"video_status"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func detailsView(order *domain.Order) orderDetails {
	d := orderDetails{
		OrderID:     order.PublicID,
		ChildName:   order.FirstParticipantName(),
		Email:       order.Email,
		ProductType: string(order.ProductType),
		Overage:     string(order.Overage),
		Status:      string(order.Status),
		VideoStatus: string(order.VideoStatus),
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
	}
	if order.AccessCode != nil {
		d.AccessCode = *order.AccessCode
	}
	return d
}

// Details powers the post-payment success page. Lookup is by order id or by
// payment reference, whichever the storefront has in hand.
func (h *OrderHandler) Details(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(r.URL.Query().Get("order_id"))
	paymentRef := strings.TrimSpace(r.URL.Query().Get("payment_ref"))
	if orderID == "" && paymentRef == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing order_id or payment_ref", nil)
		return
	}
	var (
		order *domain.Order
		err   error
	)
	if orderID != "" {
		order, err = h.orders.FindByPublicID(r.Context(), orderID)
	} else {
		order, err = h.orders.FindByPaymentRef(r.Context(), paymentRef)
	}
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, detailsView(order))
}

// Media hands out call artifacts. The access code doubles as the credential:
// it must match the stored one exactly, and a miss is a 403 with no hint of
// which part was wrong.
func (h *OrderHandler) Media(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	accessCode := strings.TrimSpace(r.URL.Query().Get("access_code"))
	if accessCode == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing access_code", nil)
		return
	}
	order, err := h.orders.FindByPublicID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	if order.AccessCode == nil || *order.AccessCode != accessCode {
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "invalid access code", nil)
		return
	}

	audioURL := order.AudioURL
	if order.RecordingObjectKey != "" {
		if signed, err := h.storage.PresignRecordingURL(r.Context(), order.RecordingObjectKey); err == nil {
			audioURL = signed
		} else {
			h.logger.WarnContext(r.Context(), "presign failed, falling back to stored url",
				"order_id", order.PublicID, "err", err)
		}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"child_name":    order.FirstParticipantName(),
		"audio_url":     audioURL,
		"video_url":     order.VideoURL,
		"transcript":    order.Transcript,
		"call_duration": order.CallDurationSeconds,
		"product_type":  order.ProductType,
		"created_at":    order.CreatedAt,
	})
}

// UpgradeSuccess powers the upgrade confirmation page: the benefit lives on
// the original order, so both rows are read.
func (h *OrderHandler) UpgradeSuccess(w http.ResponseWriter, r *http.Request) {
	upgrade, err := h.orders.FindByPublicID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	if !upgrade.ProductType.IsUpgrade() || upgrade.OriginalOrderID == nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "not an upgrade order", nil)
		return
	}
	original, err := h.orders.FindByID(r.Context(), *upgrade.OriginalOrderID)
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "original order not found", nil)
		return
	}

	data := map[string]any{
		"upgrade_type": upgrade.ProductType,
		"child_name":   original.FirstParticipantName(),
		"parent_email": upgrade.Email,
	}
	if upgrade.ProductType == domain.ProductUpgradeBundle || upgrade.ProductType == domain.ProductUpgradeReturnCall {
		if original.ReturnAccessCode != nil {
			data["new_access_code"] = *original.ReturnAccessCode
		}
		data["call_number"] = h.cfg.CallInNumber
		data["is_unlimited"] = original.Overage == domain.OverageUnlimited
	}
	if original.AudioURL != "" || original.Transcript != "" {
		data["original_call"] = map[string]any{
			"audio_url":     original.AudioURL,
			"transcript":    original.Transcript,
			"call_duration": original.CallDurationSeconds,
			"created_at":    original.CreatedAt,
		}
	}
	response.JSON(w, r, http.StatusOK, data)
}

type personalizationRequest struct {
	Token    string `json:"token"`
	Children []struct {
		Name string `json:"name"`
		Wish string `json:"wish"`
		Deed string `json:"deed"`
	} `json:"children"`
	Phone string `json:"parent_phone"`
	Email string `json:"parent_email"`
}

// SavePersonalization replaces the order's participant list. The magic-link
// token is the only credential the personalization page holds.
func (h *OrderHandler) SavePersonalization(w http.ResponseWriter, r *http.Request) {
	var body personalizationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	orderID, err := h.magicLink.Parse(body.Token)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
		return
	}
	order, err := h.orders.FindByPublicID(r.Context(), orderID)
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	if len(body.Children) > 0 {
		participants := make([]domain.Participant, 0, len(body.Children))
		for i, c := range body.Children {
			participants = append(participants, domain.Participant{
				Name:     strings.TrimSpace(c.Name),
				Wish:     strings.TrimSpace(c.Wish),
				Deed:     strings.TrimSpace(c.Deed),
				Position: i,
			})
		}
		if err := h.orders.SaveParticipants(r.Context(), order.ID, participants); err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to save personalization", nil)
			return
		}
	}
	if body.Email != "" || body.Phone != "" {
		email := order.Email
		if body.Email != "" {
			email = strings.TrimSpace(body.Email)
		}
		phone := order.Phone
		if body.Phone != "" {
			phone = strings.TrimSpace(body.Phone)
		}
		if err := h.orders.SaveContact(r.Context(), order.ID, email, phone); err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to save contact", nil)
			return
		}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"order_id": order.PublicID})
}

// GetPersonalization lets the personalization page prefill what it already
// knows.
func (h *OrderHandler) GetPersonalization(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.magicLink.Parse(strings.TrimSpace(r.URL.Query().Get("token")))
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
		return
	}
	order, err := h.orders.FindByPublicID(r.Context(), orderID)
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	children := make([]map[string]string, 0, len(order.Participants))
	for _, p := range order.Participants {
		children = append(children, map[string]string{"name": p.Name, "wish": p.Wish, "deed": p.Deed})
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"order_id":     order.PublicID,
		"product_type": order.ProductType,
		"children":     children,
		"parent_email": order.Email,
		"parent_phone": order.Phone,
	})
}

type magicLinkRequest struct {
	Email   string `json:"email"`
	OrderID string `json:"order_id"`
}

// SendMagicLink mails a personalization link. The email must match the
// order's; otherwise anyone with an order id could redirect the link.
func (h *OrderHandler) SendMagicLink(w http.ResponseWriter, r *http.Request) {
	var body magicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if body.Email == "" || body.OrderID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing email or order_id", nil)
		return
	}
	order, err := h.orders.FindByPublicID(r.Context(), strings.TrimSpace(body.OrderID))
	if err != nil || !strings.EqualFold(order.Email, strings.TrimSpace(body.Email)) {
		// Same reply for unknown order and mismatched email.
		response.JSON(w, r, http.StatusOK, map[string]any{"message": "magic link sent"})
		return
	}
	token, err := h.magicLink.Issue(order.PublicID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to issue link", nil)
		return
	}
	link := fmt.Sprintf("%s/personalize.html?token=%s", strings.TrimSuffix(h.cfg.BaseURL, "/"), token)
	content := service.BuildEmail(service.EmailMagicLink, order, map[string]string{"link": link})
	if content != nil {
		if err := h.notifier.Send(r.Context(), order.Email, content.Subject, content.HTML, content.Text); err != nil {
			h.logger.ErrorContext(r.Context(), "magic link email failed", "order_id", order.PublicID, "err", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to send email", nil)
			return
		}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "magic link sent"})
}

// VideoStatus is the delivery page's poll. Each call also advances the
// pipeline, so polling doubles as the retry loop for a missed dispatch.
func (h *OrderHandler) VideoStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.video.Ensure(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		case errors.Is(err, service.ErrNoVideoProduct):
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "order has no video", nil)
		case errors.Is(err, service.ErrVideoNotPaid):
			response.Error(w, r, http.StatusConflict, "CONFLICT", "order not paid", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to check video", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusOK, state)
}

// ListOrders is the operator console's paged order listing.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if !h.adminAuthorized(r) {
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin key required", nil)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := domain.OrderStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	result, err := h.orders.ListOrders(r.Context(), repository.PageRequest{Page: page, PageSize: pageSize}, status)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	items := make([]orderDetails, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, detailsView(&result.Items[i]))
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"orders":      items,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

// FulfillVideo is the operator override for a stuck generation job.
func (h *OrderHandler) FulfillVideo(w http.ResponseWriter, r *http.Request) {
	if !h.adminAuthorized(r) {
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin key required", nil)
		return
	}
	var body struct {
		VideoURL string `json:"video_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.VideoURL) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing video_url", nil)
		return
	}
	if err := h.video.Fulfill(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(body.VideoURL)); err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		case errors.Is(err, service.ErrNoVideoProduct):
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "order has no video", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to fulfill video", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"fulfilled": true})
}

const maxRecordingUpload = 50 << 20

// UploadRecording attaches a call recording to the order after the fact. The
// object lands in storage and its key replaces whatever direct URL the
// conversation webhook left behind.
func (h *OrderHandler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	if !h.adminAuthorized(r) {
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin key required", nil)
		return
	}
	order, err := h.orders.FindByPublicID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	if err := r.ParseMultipartForm(maxRecordingUpload); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("recording")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing recording file", nil)
		return
	}
	defer file.Close()

	key, err := h.storage.UploadRecording(r.Context(), order.PublicID, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRecordingTooBig), errors.Is(err, service.ErrInvalidRecordingType):
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "upload failed", nil)
		}
		return
	}
	if err := h.orders.SetRecordingObjectKey(r.Context(), order.ID, key); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to store recording key", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"object_key": key, "uploaded_at": time.Now().UTC()})
}

func (h *OrderHandler) adminAuthorized(r *http.Request) bool {
	return h.cfg.AdminAPIKey != "" && security.VerifySharedSecret(r.Header.Get("X-Admin-Key"), h.cfg.AdminAPIKey)
}
