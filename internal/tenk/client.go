package tenk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants. Retries apply to reads only.
const (
	maxRetries       = 4
	baseBackoff      = 1 * time.Second
	maxBackoff       = 30 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.25
	defaultUserAgent = "leavesync/0.1"
	maxErrorBody     = 4096
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.10000ft.com/api/v1"

// Client is an HTTP client for the 10,000ft API. The API key travels as the
// "auth" query parameter on every request and is never logged.
type Client struct {
	baseURL    string
	basePath   string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client. baseURL is typically DefaultBaseURL.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	baseURL = strings.TrimRight(baseURL, "/")

	var basePath string
	if u, err := url.Parse(baseURL); err == nil {
		basePath = u.Path
	}

	return &Client{
		baseURL:    baseURL,
		basePath:   basePath,
		apiKey:     apiKey,
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do executes an idempotent request, retrying network errors and transient
// HTTP statuses with exponential backoff. path is relative to the base URL
// and may carry its own query string; query values are merged into it.
// The caller closes the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	var attempt int

	for {
		resp, err := c.doOnce(ctx, method, path, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("tenk: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("tenk: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("tenk: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		if isSuccess(resp.StatusCode) {
			return resp, nil
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			drainAndClose(resp)

			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("tenk: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, c.apiError(method, path, resp)
	}
}

// DoOnce executes a request exactly once. Assignment mutations go through
// here: a failed write is reported to the caller, which retries on the
// next run instead.
func (c *Client) DoOnce(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	resp, err := c.doOnce(ctx, method, path, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tenk: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("tenk: %s %s: %w", method, path, err)
	}

	if isSuccess(resp.StatusCode) {
		return resp, nil
	}

	return nil, c.apiError(method, path, resp)
}

// doOnce builds and sends a single request.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	target, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("request complete",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	return resp, nil
}

// buildURL joins path onto the base URL and merges the auth key and query.
func (c *Client) buildURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("tenk: invalid request path %q: %w", path, err)
	}

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	q.Set("auth", c.apiKey)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// relativePath converts a paging link returned by the API into a path
// relative to the base URL. Links come back either as absolute URLs or as
// absolute paths that repeat the base path ("/api/v1/users?page=2").
func (c *Client) relativePath(link string) (string, error) {
	if strings.HasPrefix(link, c.baseURL) {
		return strings.TrimPrefix(link, c.baseURL), nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("tenk: invalid paging link %q: %w", link, err)
	}

	p := u.Path
	if c.basePath != "" && strings.HasPrefix(p, c.basePath) {
		p = strings.TrimPrefix(p, c.basePath)
	}

	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}

	return p, nil
}

// apiError reads the error body (bounded) and closes it.
func (c *Client) apiError(method, path string, resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if readErr != nil {
		body = []byte("(failed to read response body)")
	}

	return &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// retryBackoff honors Retry-After on 429 responses.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
