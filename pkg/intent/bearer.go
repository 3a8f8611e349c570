package intent

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerClaims is the wire form of an intent token, for presenting intent
// across a process boundary without sharing the guard's store. The store
// remains the source of truth: a bearer is only honored if its token id
// still resolves there.
type BearerClaims struct {
	jwt.RegisteredClaims
	Source Source   `json:"source"`
	TurnID string   `json:"turn_id"`
	Scope  []string `json:"scope,omitempty"`
}

// BearerCodec signs and parses bearer tokens with HMAC-SHA256.
type BearerCodec struct {
	key []byte
}

// NewBearerCodec creates a codec from a signing key.
func NewBearerCodec(key []byte) *BearerCodec {
	return &BearerCodec{key: key}
}

// Export serializes a token as a signed JWT.
func (c *BearerCodec) Export(t *Token) (string, error) {
	claims := BearerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.TokenID,
			Issuer:    "warden/intent",
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
		Source: t.Source,
		TurnID: t.TurnID,
		Scope:  t.Scope,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Parse validates a bearer and returns the token id it carries. The caller
// still resolves the id through Guard.RequireIntent for turn binding.
func (c *BearerCodec) Parse(bearer string) (string, error) {
	token, err := jwt.ParseWithClaims(bearer, &BearerClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("warden/intent"))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*BearerClaims)
	if !ok || !token.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}
	if claims.ID == "" {
		return "", fmt.Errorf("bearer carries no token id")
	}
	return claims.ID, nil
}

// ExpiresIn is a convenience for callers displaying token lifetimes.
func (t *Token) ExpiresIn(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}
