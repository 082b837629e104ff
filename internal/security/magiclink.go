package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// MagicLink issues and parses the short-lived tokens embedded in
// personalization links, so a customer can finish their order details without
// an account. The only claim that matters is the order's public id.
type MagicLink struct {
	secret []byte
	ttl    time.Duration
}

func NewMagicLink(secret string, ttl time.Duration) *MagicLink {
	return &MagicLink{secret: []byte(secret), ttl: ttl}
}

type magicLinkClaims struct {
	OrderID string `json:"order_id"`
	jwt.RegisteredClaims
}

func (m *MagicLink) Issue(orderPublicID string) (string, error) {
	now := time.Now()
	claims := magicLinkClaims{
		OrderID: orderPublicID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "callsanta",
			Subject:   orderPublicID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse returns the order public id a valid token grants access to.
func (m *MagicLink) Parse(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &magicLinkClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*magicLinkClaims)
	if !ok || claims.OrderID == "" {
		return "", ErrInvalidToken
	}
	return claims.OrderID, nil
}
