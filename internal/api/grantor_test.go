package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExchangeSessionTokenSendsCookie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			t.Errorf("session cookie missing: %v", err)
		} else if cookie.Value != "st-1" {
			t.Errorf("unexpected cookie value %q", cookie.Value)
		}
		fmt.Fprintf(w, `{"accessToken":"at-1","expires":%q,"user":{"email":"a@b.c"}}`,
			time.Now().Add(time.Hour).Format(time.RFC3339))
	}))
	defer server.Close()

	grantor := NewGrantor(GrantorOptions{SessionURL: server.URL})

	grant, err := grantor.ExchangeSessionToken(context.Background(), "st-1")
	if err != nil {
		t.Fatalf("ExchangeSessionToken returned error: %v", err)
	}
	if grant.AccessToken != "at-1" {
		t.Errorf("unexpected access token %q", grant.AccessToken)
	}
	if grant.ExpiresAt.IsZero() || !grant.ExpiresAt.After(time.Now()) {
		t.Errorf("expected a future expiry, got %v", grant.ExpiresAt)
	}
}

func TestExchangeRefreshTokenBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["grant_type"] != "refresh_token" {
			t.Errorf("unexpected grant_type %q", body["grant_type"])
		}
		if body["client_id"] != "client-default" {
			t.Errorf("unexpected client_id %q", body["client_id"])
		}
		if body["refresh_token"] != "rt-1" {
			t.Errorf("unexpected refresh_token %q", body["refresh_token"])
		}
		if body["redirect_uri"] == "" {
			t.Error("redirect_uri missing")
		}
		fmt.Fprint(w, `{"access_token":"at-2","refresh_token":"rt-2","expires_in":3600}`)
	}))
	defer server.Close()

	grantor := NewGrantor(GrantorOptions{
		TokenURL:    server.URL,
		ClientID:    "client-default",
		RedirectURI: "app://callback",
	})

	grant, err := grantor.ExchangeRefreshToken(context.Background(), "rt-1", "")
	if err != nil {
		t.Fatalf("ExchangeRefreshToken returned error: %v", err)
	}
	if grant.AccessToken != "at-2" {
		t.Errorf("unexpected access token %q", grant.AccessToken)
	}
	if grant.RefreshToken != "rt-2" {
		t.Errorf("rotated refresh token not surfaced: %q", grant.RefreshToken)
	}
	if grant.ExpiresAt.Before(time.Now().Add(50 * time.Minute)) {
		t.Errorf("expiry not derived from expires_in: %v", grant.ExpiresAt)
	}
}

func TestExchangeRefreshTokenAccountClientIDOverrides(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["client_id"] != "client-override" {
			t.Errorf("expected account client id to win, got %q", body["client_id"])
		}
		fmt.Fprint(w, `{"access_token":"at-3","expires_in":60}`)
	}))
	defer server.Close()

	grantor := NewGrantor(GrantorOptions{TokenURL: server.URL, ClientID: "client-default"})

	if _, err := grantor.ExchangeRefreshToken(context.Background(), "rt-1", "client-override"); err != nil {
		t.Fatalf("ExchangeRefreshToken returned error: %v", err)
	}
}

func TestExchangeFailuresSurfaceStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer server.Close()

	grantor := NewGrantor(GrantorOptions{SessionURL: server.URL, TokenURL: server.URL})

	_, err := grantor.ExchangeSessionToken(context.Background(), "st-bad")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected a 401 *Error, got %v", err)
	}

	if _, err := grantor.ExchangeRefreshToken(context.Background(), "rt-bad", ""); err == nil {
		t.Fatal("expected refresh exchange failure")
	}
}

func TestExchangeRejectsEmptyTokens(t *testing.T) {
	grantor := NewGrantor(GrantorOptions{})

	if _, err := grantor.ExchangeSessionToken(context.Background(), ""); err == nil {
		t.Error("expected error for empty session token")
	}
	if _, err := grantor.ExchangeRefreshToken(context.Background(), "", ""); err == nil {
		t.Error("expected error for empty refresh token")
	}
}
