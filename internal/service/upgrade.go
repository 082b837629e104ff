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

const (
	priceUpgradeRecordingCents  = 500
	priceUpgradeBundleCents     = 750
	priceUpgradeReturnCallCents = 1000
)

var (
	ErrOriginalNotFound   = errors.New("original order not found")
	ErrInvalidUpgradeType = errors.New("invalid upgrade type")
)

// UpgradeService sells add-ons against an existing order. The upgrade is its
// own order row pointing back at the original; the benefit lands on the
// original only when the upgrade's payment succeeds.
type UpgradeService struct {
	orders  repository.OrderRepository
	gateway PaymentGateway
	issuer  *CodeIssuer
	logger  *slog.Logger
}

func NewUpgradeService(orders repository.OrderRepository, gateway PaymentGateway, issuer *CodeIssuer, logger *slog.Logger) *UpgradeService {
	return &UpgradeService{orders: orders, gateway: gateway, issuer: issuer, logger: logger}
}

// UpgradeInput identifies the original order either by its public id or by
// the access code printed in the confirmation email.
type UpgradeInput struct {
	OrderID    string
	AccessCode string
	Type       domain.ProductType
}

func upgradePrice(t domain.ProductType) (int64, error) {
	switch t {
	case domain.ProductUpgradeRecording:
		return priceUpgradeRecordingCents, nil
	case domain.ProductUpgradeBundle:
		return priceUpgradeBundleCents, nil
	case domain.ProductUpgradeReturnCall:
		return priceUpgradeReturnCallCents, nil
	}
	return 0, ErrInvalidUpgradeType
}

// Create opens a pending upgrade order with its own payment intent. The two
// lookup paths deliberately differ in strength: the public id is exact, the
// access code falls back to the newest order carrying it.
func (s *UpgradeService) Create(ctx context.Context, in UpgradeInput) (*CheckoutResult, error) {
	amount, err := upgradePrice(in.Type)
	if err != nil {
		return nil, err
	}
	original, err := s.findOriginal(ctx, in)
	if err != nil {
		return nil, err
	}

	upgrade := &domain.Order{
		PublicID:        uuid.NewString(),
		Status:          domain.StatusPendingPayment,
		ProductType:     in.Type,
		Overage:         domain.OverageAutoDisconnect,
		Email:           original.Email,
		Phone:           original.Phone,
		AmountCents:     amount,
		Currency:        original.Currency,
		OriginalOrderID: &original.ID,
	}

	customerRef, err := s.gateway.CreateCustomer(ctx, original.Email, original.FirstParticipantName())
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	intent, err := s.gateway.CreateIntent(ctx, amount, upgrade.Currency, customerRef,
		fmt.Sprintf("Santa %s for order %s", in.Type, original.PublicID),
		map[string]string{"order_id": upgrade.PublicID, "original_order_id": original.PublicID})
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	upgrade.PaymentRef = intent.ID

	if err := s.orders.Create(ctx, upgrade); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "upgrade order created",
		"order_id", upgrade.PublicID, "original_order", original.PublicID,
		"upgrade_type", in.Type, "amount_cents", amount)
	return &CheckoutResult{
		OrderID:      upgrade.PublicID,
		PaymentRef:   intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  amount,
	}, nil
}

func (s *UpgradeService) findOriginal(ctx context.Context, in UpgradeInput) (*domain.Order, error) {
	if id := strings.TrimSpace(in.OrderID); id != "" {
		order, err := s.orders.FindByPublicID(ctx, id)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return nil, err
		}
	}
	if code := s.issuer.NormalizeCode(in.AccessCode); code != "" {
		order, err := s.orders.FindByAccessCodeLatest(ctx, code)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return nil, err
		}
	}
	return nil, ErrOriginalNotFound
}
