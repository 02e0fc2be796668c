package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of token claims the client uses.
type Claims struct {
	Subject string
	Email   string
	// ExpiresAt is zero when the token carries no exp claim.
	ExpiresAt time.Time
}

// Expired reports whether the claims have an expiry at or before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseClaims decodes a JWT without checking its signature. Opaque tokens
// that are not JWTs yield empty Claims and no error.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, nil //nolint:nilerr // opaque token
	}

	var c Claims
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("decoding exp claim: %w", err)
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
	}

	// Backends differ on whether sub is a string or a number.
	switch sub := mc["sub"].(type) {
	case string:
		c.Subject = sub
	case float64:
		c.Subject = strconv.FormatFloat(sub, 'f', -1, 64)
	}
	if email, ok := mc["email"].(string); ok {
		c.Email = email
	}

	return c, nil
}
