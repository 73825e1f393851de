package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jddlt/sora2api/internal/auth"
)

const sessionCookieName = "__Secure-next-auth.session-token"

// GrantorOptions configures the token exchange endpoints.
type GrantorOptions struct {
	// SessionURL is the session endpoint that trades the cookie-carried
	// session token for an access token.
	SessionURL string
	// TokenURL is the OAuth token endpoint for the refresh_token grant.
	TokenURL string
	// ClientID is the OAuth client identifier; accounts may override it.
	ClientID string
	// RedirectURI is the fixed OAuth redirect for the refresh grant.
	RedirectURI string

	HTTPClient Doer
}

// Grantor exchanges long-lived credentials for access tokens. It implements
// auth.Grantor and holds no per-account state.
type Grantor struct {
	sessionURL  string
	tokenURL    string
	clientID    string
	redirectURI string
	http        Doer
}

// NewGrantor constructs a Grantor over the remote auth endpoints.
func NewGrantor(opts GrantorOptions) *Grantor {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Grantor{
		sessionURL:  opts.SessionURL,
		tokenURL:    opts.TokenURL,
		clientID:    opts.ClientID,
		redirectURI: opts.RedirectURI,
		http:        opts.HTTPClient,
	}
}

// ExchangeSessionToken trades a session-token cookie for an access token.
func (g *Grantor) ExchangeSessionToken(ctx context.Context, sessionToken string) (auth.Grant, error) {
	if sessionToken == "" {
		return auth.Grant{}, errors.New("session token must be provided")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.sessionURL, nil)
	if err != nil {
		return auth.Grant{}, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sessionToken})

	var payload struct {
		AccessToken string `json:"accessToken"`
		Expires     string `json:"expires"`
		User        struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := g.roundTrip(req, &payload); err != nil {
		return auth.Grant{}, fmt.Errorf("session exchange: %w", err)
	}
	if payload.AccessToken == "" {
		return auth.Grant{}, errors.New("session exchange: response missing access token")
	}

	grant := auth.Grant{AccessToken: payload.AccessToken}
	if payload.Expires != "" {
		if expires, err := time.Parse(time.RFC3339, payload.Expires); err == nil {
			grant.ExpiresAt = expires
		}
	}
	return grant, nil
}

// ExchangeRefreshToken trades a refresh token for an access token via the
// OAuth refresh_token grant. The grantor may rotate the refresh token.
func (g *Grantor) ExchangeRefreshToken(ctx context.Context, refreshToken, clientID string) (auth.Grant, error) {
	if refreshToken == "" {
		return auth.Grant{}, errors.New("refresh token must be provided")
	}
	if clientID == "" {
		clientID = g.clientID
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     clientID,
		"grant_type":    "refresh_token",
		"redirect_uri":  g.redirectURI,
		"refresh_token": refreshToken,
	})
	if err != nil {
		return auth.Grant{}, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, bytes.NewReader(body))
	if err != nil {
		return auth.Grant{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := g.roundTrip(req, &payload); err != nil {
		return auth.Grant{}, fmt.Errorf("refresh exchange: %w", err)
	}
	if payload.AccessToken == "" {
		return auth.Grant{}, errors.New("refresh exchange: response missing access token")
	}

	grant := auth.Grant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if payload.ExpiresIn > 0 {
		grant.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return grant, nil
}

func (g *Grantor) roundTrip(req *http.Request, out any) error {
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Message: string(payload)}
	}
	if len(payload) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
