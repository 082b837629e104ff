package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/repository"
)

// Prices in cents. The voice and video products share the per-child
// surcharge; the bundle already includes unlimited call time.
const (
	priceCallCents       = 1000
	priceBundleCents     = 2000
	priceVideoCents      = 3500
	priceExtraChildCents = 750
	priceUnlimitedCents  = 500
)

var (
	ErrNoParticipants     = errors.New("at least one participant required")
	ErrUnknownProductType = errors.New("unknown product type")
	ErrContactRequired    = errors.New("email and phone required")
)

// CheckoutInput is one order as the storefront submits it.
type CheckoutInput struct {
	ProductType  domain.ProductType
	Participants []ParticipantInput
	Email        string
	Phone        string
	Unlimited    bool
	PromoCode    string
	Currency     string
}

type ParticipantInput struct {
	Name string
	Wish string
	Deed string
}

// CheckoutResult carries what the storefront needs to collect payment.
type CheckoutResult struct {
	OrderID      string `json:"order_id"`
	PaymentRef   string `json:"payment_ref"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
	Free         bool   `json:"free"`
}

// CheckoutService prices and creates orders and opens the payment intent
// that the webhook flow will later settle.
type CheckoutService struct {
	orders    repository.OrderRepository
	gateway   PaymentGateway
	issuer    *CodeIssuer
	promoCode string
	logger    *slog.Logger
}

func NewCheckoutService(orders repository.OrderRepository, gateway PaymentGateway, issuer *CodeIssuer, promoCode string, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{orders: orders, gateway: gateway, issuer: issuer, promoCode: promoCode, logger: logger}
}

// priceOrder computes the charge. Upgrade products are priced by the upgrade
// service, not here.
func priceOrder(product domain.ProductType, participantCount int, unlimited bool) (int64, error) {
	var base int64
	switch product {
	case domain.ProductCall:
		base = priceCallCents
	case domain.ProductBundle:
		base = priceBundleCents
	case domain.ProductVideo:
		base = priceVideoCents
	default:
		return 0, ErrUnknownProductType
	}
	if participantCount > 1 {
		base += int64(participantCount-1) * priceExtraChildCents
	}
	// The bundle already includes unlimited call time.
	if unlimited && product != domain.ProductBundle {
		base += priceUnlimitedCents
	}
	return base, nil
}

// Create validates the input, prices it, persists a pending order and opens
// a payment intent. A full-discount promo order skips the gateway entirely
// and is created already paid, with its access code active.
func (s *CheckoutService) Create(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if len(in.Participants) == 0 {
		return nil, ErrNoParticipants
	}
	if strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.Phone) == "" {
		return nil, ErrContactRequired
	}
	amount, err := priceOrder(in.ProductType, len(in.Participants), in.Unlimited)
	if err != nil {
		return nil, err
	}
	currency := in.Currency
	if currency == "" {
		currency = "usd"
	}

	overage := domain.OverageAutoDisconnect
	if in.Unlimited || in.ProductType == domain.ProductBundle {
		overage = domain.OverageUnlimited
	}

	order := &domain.Order{
		PublicID:    uuid.NewString(),
		Status:      domain.StatusPendingPayment,
		ProductType: in.ProductType,
		Overage:     overage,
		Email:       strings.TrimSpace(in.Email),
		Phone:       strings.TrimSpace(in.Phone),
		AmountCents: amount,
		Currency:    currency,
	}
	for i, p := range in.Participants {
		order.Participants = append(order.Participants, domain.Participant{
			Name:     strings.TrimSpace(p.Name),
			Wish:     strings.TrimSpace(p.Wish),
			Deed:     strings.TrimSpace(p.Deed),
			Position: i,
		})
	}

	if s.isFullDiscount(in.PromoCode) {
		return s.createFree(ctx, order)
	}

	customerRef, err := s.gateway.CreateCustomer(ctx, order.Email, order.FirstParticipantName())
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	intent, err := s.gateway.CreateIntent(ctx, amount, currency, customerRef,
		fmt.Sprintf("Santa %s order", order.ProductType),
		map[string]string{"order_id": order.PublicID})
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	order.PaymentRef = intent.ID

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "order created",
		"order_id", order.PublicID, "product_type", order.ProductType,
		"amount_cents", amount, "payment_ref", intent.ID)
	return &CheckoutResult{
		OrderID:      order.PublicID,
		PaymentRef:   intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  amount,
	}, nil
}

// createFree persists a zero-amount promo order directly in paid status. No
// intent exists, so the payment reference is fabricated locally; the payment
// webhook will never mention it.
func (s *CheckoutService) createFree(ctx context.Context, order *domain.Order) (*CheckoutResult, error) {
	order.AmountCents = 0
	order.Status = domain.StatusPaid
	order.PaymentRef = "promo_" + order.PublicID
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	if order.ProductType.IncludesCall() {
		if _, err := s.issuer.Activate(ctx, s.orders, order.ID); err != nil {
			return nil, fmt.Errorf("activate access code: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "promo order created",
		"order_id", order.PublicID, "product_type", order.ProductType)
	return &CheckoutResult{OrderID: order.PublicID, PaymentRef: order.PaymentRef, Free: true}, nil
}

func (s *CheckoutService) isFullDiscount(code string) bool {
	return s.promoCode != "" && strings.EqualFold(strings.TrimSpace(code), s.promoCode)
}
