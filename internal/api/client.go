package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jddlt/sora2api/internal/auth"
	"github.com/jddlt/sora2api/internal/logging"
)

// Doer executes a single HTTP request. *http.Client satisfies it; tests
// inject fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies valid access tokens and the forced-refresh recovery
// path. *auth.Manager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context, account string) (string, error)
	ForceRefresh(ctx context.Context, account, staleToken string) (string, error)
}

const maxResponseBytes = 16 << 20

// Options configures a Client.
type Options struct {
	BaseURL string
	Tokens  TokenSource
	// HTTPClient defaults to an http.Client with a 30s timeout.
	HTTPClient Doer
	// RequestsPerMinute caps outbound calls per account. Defaults to 60.
	RequestsPerMinute int
}

// Client is the request dispatcher: it executes one logical call against the
// remote service with a valid bearer token, attaches a sentinel header when
// the endpoint requires one, and classifies the response.
type Client struct {
	baseURL  string
	http     Doer
	tokens   TokenSource
	limiter  *accountLimiter
	deviceID string

	mu      sync.Mutex
	proxies map[string]Doer
}

// NewClient constructs a dispatcher for the remote service.
func NewClient(opts Options) *Client {
	if opts.Tokens == nil {
		panic("api: token source must not be nil")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 60
	}

	return &Client{
		baseURL:  strings.TrimSuffix(opts.BaseURL, "/"),
		http:     opts.HTTPClient,
		tokens:   opts.Tokens,
		limiter:  newAccountLimiter(opts.RequestsPerMinute, time.Minute, 5),
		deviceID: uuid.NewString(),
		proxies:  make(map[string]Doer),
	}
}

// SetAccountProxy routes the account's calls through the provided proxy URL.
// An empty proxyURL removes the override.
func (c *Client) SetAccountProxy(account, proxyURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if proxyURL == "" {
		delete(c.proxies, account)
		return nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}
	c.proxies[account] = &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
		Timeout:   30 * time.Second,
	}
	return nil
}

func (c *Client) doerFor(account string) Doer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.proxies[account]; ok {
		return d
	}
	return c.http
}

type callOptions struct {
	// sentinel attaches a fresh anti-abuse token header.
	sentinel bool
	// contentType overrides the default application/json.
	contentType string
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do executes one logical call. It performs at most one recovery: a forced
// credential refresh and a single retry when the service reports the token
// expired or invalidated. All other retry policy belongs to the caller.
func (c *Client) do(ctx context.Context, account, method, path string, body []byte, opts callOptions) ([]byte, error) {
	if err := c.limiter.Wait(ctx, account); err != nil {
		return nil, err
	}

	token, err := c.tokens.AccessToken(ctx, account)
	if err != nil {
		return nil, err
	}

	refreshed := false
	for {
		payload, code, err := c.send(ctx, account, method, path, token, body, opts)
		if err != nil {
			return nil, err
		}
		if code == "" {
			return payload, nil
		}

		switch code {
		case codeTokenExpired, codeTokenInvalidated:
			if refreshed {
				return nil, fmt.Errorf("%w: %s", ErrAuthExhausted, code)
			}
			refreshed = true
			token, err = c.tokens.ForceRefresh(ctx, account, token)
			if err != nil {
				return nil, err
			}
		default:
			// unreachable: send classifies every other code
			return nil, fmt.Errorf("unclassified error code %q", code)
		}
	}
}

// send issues the HTTP request once. It returns the body on success, or an
// auth error code for do to recover from, or a classified error.
func (c *Client) send(ctx context.Context, account, method, path, token string, body []byte, opts callOptions) ([]byte, string, error) {
	target := path
	if !strings.HasPrefix(path, "http") {
		target = c.baseURL + path
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", "oai-did="+c.deviceID)
	if body != nil {
		contentType := opts.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	if opts.sentinel {
		sentinel, err := auth.NextSentinel()
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("openai-sentinel-token", sentinel)
	}

	start := time.Now()
	resp, err := c.doerFor(account).Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read response body: %w", err)
	}

	logging.FromContext(ctx).Debug("dispatched call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return payload, "", nil
	}

	var envelope errorEnvelope
	_ = json.Unmarshal(payload, &envelope)

	switch envelope.Error.Code {
	case codeTokenExpired, codeTokenInvalidated:
		return nil, envelope.Error.Code, nil
	case codeHeavyLoad:
		return nil, "", fmt.Errorf("%s %s: %w", method, path, ErrOverloaded)
	case codeUnsupportedCountry:
		return nil, "", fmt.Errorf("%s %s: %w", method, path, ErrRegionBlocked)
	}

	return nil, "", &Error{
		Status:  resp.StatusCode,
		Code:    envelope.Error.Code,
		Message: envelope.Error.Message,
	}
}

func (c *Client) getJSON(ctx context.Context, account, path string, out any) error {
	payload, err := c.do(ctx, account, http.MethodGet, path, nil, callOptions{})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, account, path string, in, out any, opts callOptions) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = encoded
	}

	payload, err := c.do(ctx, account, http.MethodPost, path, body, opts)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) delete(ctx context.Context, account, path string) error {
	_, err := c.do(ctx, account, http.MethodDelete, path, nil, callOptions{})
	return err
}

var errEmptyIdentifier = errors.New("identifier must be provided")
