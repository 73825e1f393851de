package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jddlt/sora2api/internal/logging"
)

// Grant is the outcome of a successful token exchange.
type Grant struct {
	AccessToken string
	// RefreshToken is non-empty when the grantor rotated the refresh token.
	RefreshToken string
	// ExpiresAt is zero when the grantor response carried no expiry; the
	// Manager then peeks it from the access token claims.
	ExpiresAt time.Time
}

// Grantor exchanges a long-lived credential for a fresh access token.
type Grantor interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken, clientID string) (Grant, error)
	ExchangeSessionToken(ctx context.Context, sessionToken string) (Grant, error)
}

// Manager keeps access tokens valid across concurrent callers. Refreshes are
// single-flight per account: while one is in progress, every caller for that
// account waits on it and observes the same token or the same failure.
type Manager struct {
	store   CredentialStore
	grantor Grantor

	renewSkew      time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	mu       sync.Mutex
	inflight map[string]*refreshCall
	failed   map[string]error
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// NewManager constructs a Manager over the provided store and grantor.
func NewManager(store CredentialStore, grantor Grantor, renewSkew time.Duration) *Manager {
	if store == nil {
		panic("auth: credential store must not be nil")
	}
	if grantor == nil {
		panic("auth: grantor must not be nil")
	}
	if renewSkew <= 0 {
		renewSkew = time.Minute
	}
	return &Manager{
		store:          store,
		grantor:        grantor,
		renewSkew:      renewSkew,
		refreshTimeout: 30 * time.Second,
		now:            time.Now,
		inflight:       make(map[string]*refreshCall),
		failed:         make(map[string]error),
	}
}

// AccessToken returns a valid access token for the account, refreshing it
// when the cached one is inside the renewal skew window. A token outside the
// window is returned without any network call.
func (m *Manager) AccessToken(ctx context.Context, account string) (string, error) {
	if err := m.failFast(account); err != nil {
		return "", err
	}

	bundle, err := m.store.Load(ctx, account)
	if err != nil {
		return "", err
	}
	if bundle.usable(m.now(), m.renewSkew) {
		return bundle.AccessToken, nil
	}

	return m.refresh(ctx, account)
}

// ForceRefresh discards the cached access token and obtains a new one. It is
// the dispatcher's recovery path after the service rejects a token; when
// another caller already replaced staleToken the current token is returned
// without a second network refresh.
func (m *Manager) ForceRefresh(ctx context.Context, account, staleToken string) (string, error) {
	if err := m.failFast(account); err != nil {
		return "", err
	}

	bundle, err := m.store.Load(ctx, account)
	if err != nil {
		return "", err
	}
	if bundle.AccessToken != staleToken && bundle.usable(m.now(), m.renewSkew) {
		return bundle.AccessToken, nil
	}

	return m.refresh(ctx, account)
}

// PutCredentials registers or replaces the account's long-lived credentials
// and clears any exhausted state. When the bundle carries an access token
// without an expiry, the expiry is peeked from the token claims.
func (m *Manager) PutCredentials(ctx context.Context, account string, bundle Bundle) error {
	if account == "" {
		return errors.New("account must be provided")
	}
	if bundle.AccessToken != "" && (bundle.AccessExpiry.IsZero() || bundle.Email == "") {
		if claims, err := PeekClaims(bundle.AccessToken); err == nil {
			if bundle.AccessExpiry.IsZero() {
				bundle.AccessExpiry = claims.ExpiresAt
			}
			if bundle.Email == "" {
				bundle.Email = claims.Email
			}
		}
	}

	if err := m.store.Save(ctx, account, bundle); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.failed, account)
	m.mu.Unlock()
	return nil
}

// Remove tears down the account's credentials and any cached failure state.
func (m *Manager) Remove(ctx context.Context, account string) error {
	m.mu.Lock()
	delete(m.failed, account)
	m.mu.Unlock()
	return m.store.Delete(ctx, account)
}

func (m *Manager) failFast(account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failed[account]; ok {
		return err
	}
	return nil
}

// refresh joins the in-flight refresh for the account or starts one. The
// refresh itself runs detached from any single caller's context so that one
// cancelled waiter does not fail the rest.
func (m *Manager) refresh(ctx context.Context, account string) (string, error) {
	m.mu.Lock()
	if err, ok := m.failed[account]; ok {
		m.mu.Unlock()
		return "", err
	}
	call, ok := m.inflight[account]
	if !ok {
		call = &refreshCall{done: make(chan struct{})}
		m.inflight[account] = call
		go m.doRefresh(account, call)
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-call.done:
		return call.token, call.err
	}
}

func (m *Manager) doRefresh(account string, call *refreshCall) {
	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	token, err := m.exchange(ctx, account)

	m.mu.Lock()
	delete(m.inflight, account)
	if err != nil && errors.Is(err, ErrCredentialsExhausted) {
		m.failed[account] = err
	}
	m.mu.Unlock()

	call.token = token
	call.err = err
	close(call.done)
}

// exchange attempts the refresh-token path first, falling back to the
// session-token exchange. On success the bundle's access token and expiry
// are replaced atomically; on failure the bundle is left unchanged.
func (m *Manager) exchange(ctx context.Context, account string) (string, error) {
	bundle, err := m.store.Load(ctx, account)
	if err != nil {
		return "", err
	}
	if !bundle.hasLongLived() {
		return "", fmt.Errorf("%w: no refresh or session token held", ErrCredentialsExhausted)
	}

	logger := logging.FromContext(ctx).With(slog.String("account", account))

	var refreshErr, sessionErr error
	if bundle.RefreshToken != "" {
		grant, err := m.grantor.ExchangeRefreshToken(ctx, bundle.RefreshToken, bundle.ClientID)
		if err == nil {
			return m.commit(ctx, account, bundle, grant)
		}
		refreshErr = fmt.Errorf("refresh token exchange: %w", err)
		logger.Warn("refresh token exchange failed, falling back to session token", slog.Any("error", err))
	}

	if bundle.SessionToken != "" {
		grant, err := m.grantor.ExchangeSessionToken(ctx, bundle.SessionToken)
		if err == nil {
			return m.commit(ctx, account, bundle, grant)
		}
		sessionErr = fmt.Errorf("session token exchange: %w", err)
	}

	return "", fmt.Errorf("%w: %w", ErrCredentialsExhausted, errors.Join(refreshErr, sessionErr))
}

func (m *Manager) commit(ctx context.Context, account string, bundle Bundle, grant Grant) (string, error) {
	if grant.AccessToken == "" {
		return "", errors.New("grantor returned empty access token")
	}

	bundle.AccessToken = grant.AccessToken
	bundle.AccessExpiry = grant.ExpiresAt
	if grant.RefreshToken != "" {
		bundle.RefreshToken = grant.RefreshToken
	}
	if claims, err := PeekClaims(grant.AccessToken); err == nil {
		if bundle.AccessExpiry.IsZero() {
			bundle.AccessExpiry = claims.ExpiresAt
		}
		if claims.Email != "" {
			bundle.Email = claims.Email
		}
	}

	if err := m.store.Save(ctx, account, bundle); err != nil {
		return "", fmt.Errorf("save refreshed credentials: %w", err)
	}

	return bundle.AccessToken, nil
}
