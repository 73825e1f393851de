package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestPeekClaims(t *testing.T) {
	expiry := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{
		"exp":        expiry.Unix(),
		profileClaim: map[string]any{"email": "alice@example.com"},
	})

	claims, err := PeekClaims(token)
	if err != nil {
		t.Fatalf("peek claims: %v", err)
	}
	if !claims.ExpiresAt.Equal(expiry) {
		t.Fatalf("expiry mismatch: got %v want %v", claims.ExpiresAt, expiry)
	}
	if claims.Email != "alice@example.com" {
		t.Fatalf("email mismatch: %q", claims.Email)
	}
}

func TestPeekClaimsExpiredTokenStillDecodes(t *testing.T) {
	expiry := time.Now().Add(-time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{"exp": expiry.Unix()})

	claims, err := PeekClaims(token)
	if err != nil {
		t.Fatalf("peek claims on expired token: %v", err)
	}
	if !claims.ExpiresAt.Equal(expiry) {
		t.Fatalf("expiry mismatch: got %v want %v", claims.ExpiresAt, expiry)
	}
}

func TestPeekClaimsRejectsGarbage(t *testing.T) {
	if _, err := PeekClaims("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
