package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// PaymentIntent is the gateway's handle for one charge.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// PaymentGateway abstracts the payment provider. The provider keys everything
// off the intent id, which the order stores as its payment reference.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateIntent(ctx context.Context, amountCents int64, currency, customerRef, description string, metadata map[string]string) (PaymentIntent, error)
}

// DevPaymentGateway fabricates references for local development; the webhook
// simulator in the dev tooling drives the rest of the flow.
type DevPaymentGateway struct {
	logger *slog.Logger
}

func NewDevPaymentGateway(logger *slog.Logger) *DevPaymentGateway {
	return &DevPaymentGateway{logger: logger}
}

func (g *DevPaymentGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	id := "cus_dev_" + uuid.NewString()[:8]
	g.logger.InfoContext(ctx, "dev gateway: customer created", "customer_ref", id, "email", email, "name", name)
	return id, nil
}

func (g *DevPaymentGateway) CreateIntent(ctx context.Context, amountCents int64, currency, customerRef, description string, metadata map[string]string) (PaymentIntent, error) {
	id := "pi_dev_" + uuid.NewString()[:8]
	g.logger.InfoContext(ctx, "dev gateway: intent created",
		"payment_ref", id, "amount_cents", amountCents, "currency", currency,
		"customer_ref", customerRef, "description", description)
	return PaymentIntent{ID: id, ClientSecret: fmt.Sprintf("%s_secret_%s", id, uuid.NewString()[:8])}, nil
}
