package steamweb

import (
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy for steamcommunity.com outcomes. The engine maps these
// onto per-item, per-game and session-fatal handling; the client retries
// Transient and RateLimited internally before surfacing them.

// TransientError covers timeouts, connection failures and 5xx responses.
type TransientError struct {
	Status int // 0 when the failure happened below HTTP
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("steam transient failure (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("steam transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// RateLimitedError is an HTTP 429, optionally carrying Steam's Retry-After.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("steam rate limited (retry after %s)", e.RetryAfter)
	}
	return "steam rate limited"
}

func IsRateLimited(err error) bool {
	var r *RateLimitedError
	return errors.As(err, &r)
}

// AuthRequiredError means Steam redirected to its login page or answered
// 401/403: the supplied cookies are missing or stale. Fatal for the whole
// session.
type AuthRequiredError struct {
	URL string
}

func (e *AuthRequiredError) Error() string {
	return "steam authentication required for " + e.URL
}

func IsAuthRequired(err error) bool {
	var a *AuthRequiredError
	return errors.As(err, &a)
}

// ParseError means the fetched page lacked expected markup. Per-item fatal.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

func IsParse(err error) bool {
	var p *ParseError
	return errors.As(err, &p)
}

// NotFoundError is an HTTP 404. Per-item fatal.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return "steam resource not found: " + e.URL
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}
