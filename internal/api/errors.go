package api

import (
	"errors"
	"fmt"
)

// Error codes the remote service surfaces by value.
const (
	codeTokenExpired       = "token_expired"
	codeTokenInvalidated   = "token_invalidated"
	codeHeavyLoad          = "heavy_load"
	codeUnsupportedCountry = "unsupported_country_code"
)

var (
	// ErrOverloaded indicates a transient heavy_load rejection. Retry and
	// backoff policy belong to the caller, not the dispatcher.
	ErrOverloaded = errors.New("service under heavy load")
	// ErrRegionBlocked indicates the service refuses the account's region.
	// Never retried.
	ErrRegionBlocked = errors.New("service not available in this region")
	// ErrAuthExhausted indicates the service rejected the access token again
	// after the dispatcher's one forced refresh and retry.
	ErrAuthExhausted = errors.New("authentication rejected after forced refresh")
)

// Error carries the remote status and code for rejections the dispatcher
// does not classify as retryable or fatal-by-kind.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("remote call failed: status %d", e.Status)
	}
	return fmt.Sprintf("remote call failed: status %d code %s: %s", e.Status, e.Code, e.Message)
}

// IsRetryable reports whether the caller may retry the call with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOverloaded)
}
