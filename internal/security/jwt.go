package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInspector reads claims from access tokens issued by the backend.
// The client never holds the signing key, so tokens are parsed without
// verification; the backend remains the authority on validity.
type TokenInspector struct {
	leeway time.Duration
	parser *jwt.Parser
	now    func() time.Time
}

// NewTokenInspector creates an inspector that treats tokens expiring
// within leeway as due for refresh
func NewTokenInspector(leeway time.Duration) *TokenInspector {
	return &TokenInspector{
		leeway: leeway,
		parser: jwt.NewParser(),
		now:    time.Now,
	}
}

// ExpiresAt returns the exp claim of the token
func (i *TokenInspector) ExpiresAt(tokenString string) (time.Time, error) {
	if tokenString == "" {
		return time.Time{}, errors.New("empty token")
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := i.parser.ParseUnverified(tokenString, &claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}

	return claims.ExpiresAt.Time, nil
}

// NeedsRefresh reports whether the token is expired or about to expire.
// Tokens that cannot be inspected are left to the server to judge.
func (i *TokenInspector) NeedsRefresh(tokenString string) bool {
	exp, err := i.ExpiresAt(tokenString)
	if err != nil {
		return false
	}
	return !i.now().Add(i.leeway).Before(exp)
}

// Leeway returns the configured refresh leeway
func (i *TokenInspector) Leeway() time.Duration {
	return i.leeway
}
