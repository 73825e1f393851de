package auth

import "time"

// Bundle is the three-tier credential chain held for one account: a
// cookie-carried session token, a long-lived refresh token, and the
// short-lived bearer access token with its expiry. Exactly one bundle exists
// per account; it is mutated only through the Manager.
type Bundle struct {
	SessionToken string
	RefreshToken string
	AccessToken  string
	AccessExpiry time.Time

	// ClientID overrides the default OAuth client for the refresh exchange.
	ClientID string
	// Email is informational, peeked from the access token claims.
	Email string
	// ProxyURL routes this account's outbound calls when set.
	ProxyURL string
}

// usable reports whether the cached access token is still safe to hand out
// given the renewal skew.
func (b Bundle) usable(now time.Time, skew time.Duration) bool {
	if b.AccessToken == "" || b.AccessExpiry.IsZero() {
		return false
	}
	return now.Add(skew).Before(b.AccessExpiry)
}

// hasLongLived reports whether the bundle holds any credential a refresh
// could be attempted with.
func (b Bundle) hasLongLived() bool {
	return b.RefreshToken != "" || b.SessionToken != ""
}
