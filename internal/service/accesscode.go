package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/indiko7777/callsanta/internal/repository"
)

var ErrCodePoolExhausted = errors.New("could not issue a unique access code")

// CodeIssuer hands out fixed-width numeric access codes. Uniqueness is only
// required among currently redeemable orders; the store's sparse constraint
// enforces that and a collision is retried once.
type CodeIssuer struct {
	digits int
}

func NewCodeIssuer(digits int) *CodeIssuer {
	if digits <= 0 {
		digits = 4
	}
	return &CodeIssuer{digits: digits}
}

func (i *CodeIssuer) Width() int { return i.digits }

// Generate produces a zero-padded numeric code, e.g. "0042".
func (i *CodeIssuer) Generate() (string, error) {
	max := big.NewInt(1)
	for n := 0; n < i.digits; n++ {
		max.Mul(max, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate access code: %w", err)
	}
	return fmt.Sprintf("%0*d", i.digits, v), nil
}

// Activate issues a code for the order, retrying once if the store rejects a
// collision with another live code.
func (i *CodeIssuer) Activate(ctx context.Context, orders repository.OrderRepository, orderID uint) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		code, err := i.Generate()
		if err != nil {
			return "", err
		}
		err = orders.ActivateAccessCode(ctx, orderID, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repository.ErrUniqueConflict) {
			return "", err
		}
	}
	return "", ErrCodePoolExhausted
}

// NormalizeCode pads short digit entries to the stored width, so a caller who
// keys "7" matches a stored "0007". Non-digit input is rejected by returning
// the empty string.
func (i *CodeIssuer) NormalizeCode(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > i.digits {
		return ""
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return strings.Repeat("0", i.digits-len(trimmed)) + trimmed
}
