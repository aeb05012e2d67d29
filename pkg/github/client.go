// Package github provides GitHub API client functionality.
package github

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

	"github.com/codeGROOVE-dev/retry"
)

// DefaultBaseURL is the public GitHub REST API endpoint.
const DefaultBaseURL = "https://api.github.com"

// Retry constants for idempotent reads.
const (
	maxRetryAttempts  = 25
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 2 * time.Minute
)

// errRetryable marks responses worth retrying: rate limits and server errors.
var errRetryable = errors.New("retryable response")

// Client handles all GitHub API interactions.
type Client struct {
	tokenExpiry        time.Time
	httpClient         HTTPDoer
	installationTokens map[string]string
	installationExpiry map[string]time.Time
	installationIDs    map[string]int
	baseURL            string
	appID              string
	token              string
	privateKeyPath     string
	privateKeyContent  []byte
	tokenMutex         sync.RWMutex
	isAppAuth          bool
}

var _ API = (*Client)(nil)

// Config holds configuration for creating a new GitHub client.
type Config struct {
	HTTPClient   HTTPDoer // defaults to an *http.Client with HTTPTimeout
	BaseURL      string   // defaults to DefaultBaseURL
	AppID        string
	AppKeyPath   string
	AppKeySecret string // Google Secret Manager secret holding the app private key
	Token        string // Personal access token (for non-app auth)
	HTTPTimeout  time.Duration
	UseAppAuth   bool
}

// New creates a new GitHub API client using a personal token or GitHub App authentication.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.UseAppAuth {
		return newAppAuthClient(ctx, cfg)
	}
	return newPersonalTokenClient(ctx, cfg)
}

// Token returns the base token: the app JWT or the personal access token.
func (c *Client) Token(context.Context) (string, error) {
	if err := c.refreshJWTIfNeeded(); err != nil {
		return "", err
	}
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.token, nil
}

// TokenForOwner returns the token to use for an owner's repositories.
// With App authentication this is the owner's installation token.
func (c *Client) TokenForOwner(ctx context.Context, owner string) (string, error) {
	if !c.isAppAuth {
		return c.Token(ctx)
	}
	return c.installationToken(ctx, owner)
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Warn("Failed to drain response body", "component", "http", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Warn("Failed to close response body", "component", "http", "error", err)
	}
}

// sanitizeURLForLogging strips the query string, which may carry tokens.
func sanitizeURLForLogging(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

// get performs an idempotent GET, retrying rate limits, server errors and transport failures.
func (c *Client) get(ctx context.Context, owner, path string) (*http.Response, error) {
	apiURL := c.baseURL + path
	var resp *http.Response
	err := retryWithBackoff(ctx, "GET "+sanitizeURLForLogging(apiURL), func() error {
		r, err := c.send(ctx, owner, http.MethodGet, apiURL, nil)
		if err != nil {
			return err
		}
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= http.StatusInternalServerError {
			drainAndCloseBody(r.Body)
			return fmt.Errorf("%w: http %d", errRetryable, r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// post performs a single POST. Writes are not retried: a retried assignment could
// duplicate an effect the platform already applied.
func (c *Client) post(ctx context.Context, owner, path string, body any) (*http.Response, error) {
	return c.send(ctx, owner, http.MethodPost, c.baseURL+path, body)
}

func (c *Client) send(ctx context.Context, owner, method, apiURL string, body any) (*http.Response, error) {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	authToken, err := c.TokenForOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get token for %s: %w", owner, err)
	}
	if c.isAppAuth {
		req.Header.Set("Authorization", "Bearer "+authToken)
	} else {
		req.Header.Set("Authorization", "token "+authToken)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	sanitized := sanitizeURLForLogging(apiURL)
	slog.Debug("HTTP request", "component", "http", "method", method, "url", sanitized)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	slog.Debug("HTTP response", "component", "http", "method", method, "url", sanitized, "status", resp.StatusCode)
	return resp, nil
}

// retryWithBackoff executes a function with exponential backoff using the codeGROOVE retry library.
func retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(uint(maxRetryAttempts)),
		retry.Delay(initialRetryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(initialRetryDelay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "max_attempts", maxRetryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, errRetryable) {
				return true
			}
			errStr := err.Error()
			return strings.Contains(errStr, "connection refused") ||
				strings.Contains(errStr, "timeout") ||
				strings.Contains(errStr, "temporary failure") ||
				strings.Contains(errStr, "EOF")
		}),
	)
}

// statusError reads the body of an unexpected response into an error.
func statusError(op string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("%s: status %d (could not read body: %w)", op, resp.StatusCode, err)
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
