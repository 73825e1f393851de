package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const profileClaim = "https://api.openai.com/profile"

// TokenClaims is the subset of access token claims the engine cares about.
// The token is never verified locally; the remote service is the authority.
type TokenClaims struct {
	ExpiresAt time.Time
	Email     string
}

// PeekClaims decodes a JWT-shaped access token without verifying its
// signature and extracts the expiry and, when present, the account email.
func PeekClaims(token string) (TokenClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return TokenClaims{}, fmt.Errorf("decode access token: %w", err)
	}

	var peeked TokenClaims
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		peeked.ExpiresAt = exp.Time
	}
	if profile, ok := claims[profileClaim].(map[string]any); ok {
		if email, ok := profile["email"].(string); ok {
			peeked.Email = email
		}
	}

	return peeked, nil
}
