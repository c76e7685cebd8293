// Package steamweb scrapes the unofficial steamcommunity.com HTML surfaces:
// profile pages, the screenshots landing page and its per-app listing, the
// per-screenshot detail pages, and the image CDN.
package steamweb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/adiuv0/gamevault/ratelimit"
)

const (
	communityBase = "https://steamcommunity.com"

	// Steam serves bots a stripped page without image links unless the
	// request looks like a browser.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	retryBase     = 500 * time.Millisecond
	retryCap      = 8 * time.Second
	retryAttempts = 5
)

var numericSteamID = regexp.MustCompile(`^\d{17}$`)

// Credentials scope every request to one Steam user. Cookies live only for
// the duration of an import session and are never persisted.
type Credentials struct {
	UserID           string
	IsNumericID      bool
	SteamLoginSecure string
	SessionID        string
}

// ClassifyUserID reports whether the input looks like a 64-bit Steam ID
// (as opposed to a vanity URL name).
func ClassifyUserID(input string) bool {
	return numericSteamID.MatchString(input)
}

// profileURL returns the community profile base URL for the credentials.
// Relative to the client base so tests can point at a local server.
func (c *Client) profileURL(creds Credentials) string {
	if creds.IsNumericID {
		return c.baseURL + "/profiles/" + url.PathEscape(creds.UserID)
	}
	return c.baseURL + "/id/" + url.PathEscape(creds.UserID)
}

// Client is the scraping HTTP client. All requests pass the shared rate
// gate; Transient and RateLimited failures are retried internally with
// exponential backoff.
type Client struct {
	http      *http.Client
	gate      *ratelimit.Gate
	baseURL   string        // overridable for tests
	retryBase time.Duration // overridable for tests
	log       *slog.Logger
}

func NewClient(gate *ratelimit.Gate, logger *slog.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				IdleConnTimeout:       30 * time.Second,
				MaxIdleConns:          100,
				MaxConnsPerHost:       10,
			},
		},
		gate:      gate,
		baseURL:   communityBase,
		retryBase: retryBase,
		log:       logger,
	}
}

// get fetches rawURL with credentials cookies attached, retrying transient
// failures. The caller owns the returned body.
func (c *Client) get(ctx context.Context, creds Credentials, rawURL string) (*http.Response, error) {
	var lastErr error
	delay := c.retryBase
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
			if delay > retryCap {
				delay = retryCap
			}
		}

		resp, err := c.attempt(ctx, creds, rawURL)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !IsTransient(err) && !IsRateLimited(err) {
			return nil, err
		}
		lastErr = err
		c.log.Debug("steam request retry",
			"url", rawURL, "attempt", attempt+1, "error", err)

		// Respect an explicit Retry-After over our own schedule.
		var rl *RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
			if delay > retryCap {
				delay = retryCap
			}
		}
	}
	return nil, lastErr
}

// attempt performs one gated request and classifies the outcome.
func (c *Client) attempt(ctx context.Context, creds Credentials, rawURL string) (*http.Response, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if creds.SteamLoginSecure != "" {
		req.AddCookie(&http.Cookie{Name: "steamLoginSecure", Value: creds.SteamLoginSecure})
	}
	if creds.SessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: creds.SessionID})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	// A redirect chain ending at the login page means the cookies are
	// missing or stale.
	if resp.Request != nil && resp.Request.URL != nil &&
		(resp.Request.URL.Path == "/login" || resp.Request.URL.Path == "/login/home/") {
		resp.Body.Close()
		return nil, &AuthRequiredError{URL: rawURL}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.gate.Success()
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		c.gate.Backoff()
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, &NotFoundError{URL: rawURL}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, &AuthRequiredError{URL: rawURL}
	case resp.StatusCode >= 500:
		status := resp.StatusCode
		resp.Body.Close()
		return nil, &TransientError{Status: status}
	default:
		status := resp.StatusCode
		resp.Body.Close()
		return nil, &ParseError{URL: rawURL, Reason: fmt.Sprintf("unexpected HTTP %d", status)}
	}
}

// DownloadImage streams the full-resolution image bytes and reports the
// HTTP content type.
func (c *Client) DownloadImage(ctx context.Context, creds Credentials, imageURL string) ([]byte, string, error) {
	resp, err := c.get(ctx, creds, imageURL)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &TransientError{Err: err}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// parseRetryAfter extracts retry timing from a Retry-After header.
// Returns 0 if the header is missing or invalid.
func parseRetryAfter(headerValue string) time.Duration {
	if headerValue == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(headerValue); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(headerValue); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
