package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/http/response"
	"github.com/indiko7777/callsanta/internal/repository"
	"github.com/indiko7777/callsanta/internal/service"
)

type CheckoutHandler struct {
	checkout *service.CheckoutService
	upgrade  *service.UpgradeService
}

func NewCheckoutHandler(checkout *service.CheckoutService, upgrade *service.UpgradeService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, upgrade: upgrade}
}

type checkoutRequest struct {
	ProductType string `json:"product_type"`
	Children    []struct {
		Name string `json:"name"`
		Wish string `json:"wish"`
		Deed string `json:"deed"`
	} `json:"children"`
	Email     string `json:"parent_email"`
	Phone     string `json:"parent_phone"`
	Unlimited bool   `json:"unlimited"`
	PromoCode string `json:"promo_code"`
	Currency  string `json:"currency"`
}

func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	in := service.CheckoutInput{
		ProductType: domain.ProductType(body.ProductType),
		Email:       body.Email,
		Phone:       body.Phone,
		Unlimited:   body.Unlimited,
		PromoCode:   body.PromoCode,
		Currency:    body.Currency,
	}
	for _, c := range body.Children {
		in.Participants = append(in.Participants, service.ParticipantInput{Name: c.Name, Wish: c.Wish, Deed: c.Deed})
	}
	result, err := h.checkout.Create(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoParticipants),
			errors.Is(err, service.ErrUnknownProductType),
			errors.Is(err, service.ErrContactRequired):
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		case errors.Is(err, repository.ErrDuplicatePaymentRef):
			response.Error(w, r, http.StatusConflict, "CONFLICT", "order already exists for this payment", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to create order", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusCreated, result)
}

type upgradeRequest struct {
	OrderID     string `json:"order_id"`
	AccessCode  string `json:"access_code"`
	UpgradeType string `json:"upgrade_type"`
}

func (h *CheckoutHandler) CreateUpgrade(w http.ResponseWriter, r *http.Request) {
	var body upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	result, err := h.upgrade.Create(r.Context(), service.UpgradeInput{
		OrderID:    body.OrderID,
		AccessCode: body.AccessCode,
		Type:       upgradeProductType(body.UpgradeType),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUpgradeType):
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid upgrade type", nil)
		case errors.Is(err, service.ErrOriginalNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "original order not found", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to create upgrade", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusCreated, result)
}

// upgradeProductType accepts the storefront's short names alongside the full
// product type strings.
func upgradeProductType(s string) domain.ProductType {
	switch s {
	case "recording":
		return domain.ProductUpgradeRecording
	case "bundle":
		return domain.ProductUpgradeBundle
	case "return_call":
		return domain.ProductUpgradeReturnCall
	}
	return domain.ProductType(s)
}
