// ABOUTME: HTTP client for the MemGPT agent service with uniform retry handling
// ABOUTME: Call is the single entry point; typed operations build on top of it

package memgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/fixie-bridge/internal/metrics"
)

// DefaultTimeout bounds a single HTTP attempt. A hung call would otherwise
// stall the delivery loop for every user.
const DefaultTimeout = 60 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Client talks to the agent service.
type Client struct {
	baseURL    string
	apiKey     string
	healthPath string
	http       *http.Client
	retry      RetryPolicy
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics reports call results and retries into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHealthPath overrides the health-check path (default "/health").
func WithHealthPath(path string) Option {
	return func(c *Client) { c.healthPath = path }
}

// NewClient creates a client for the service rooted at baseURL
// (for example "http://localhost:8283/api"). apiKey is sent as a bearer
// token on every request except the health check.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		healthPath: "/health",
		http:       &http.Client{Timeout: timeout},
		retry:      DefaultRetryPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "memgpt")
	return c
}

// BaseURL returns the service root the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call sends an authenticated request and returns the body and status code
// of a 2xx response. payload, when non-nil, is encoded as JSON. Transient
// failures are retried per the client's policy; the last error is returned
// once attempts run out. Non-2xx responses are reported as *StatusError.
func (c *Client) Call(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	return c.call(ctx, method, path, payload, true)
}

type response struct {
	body   []byte
	status int
}

func (c *Client) call(ctx context.Context, method, path string, payload any, auth bool) ([]byte, int, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling request: %w", err)
		}
	}

	policy := c.retry
	userNotify := policy.OnRetry
	attempt := 1
	policy.OnRetry = func(err error, next time.Duration) {
		c.logger.Warn("agent service call failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"retry_in", next,
			"error", err,
		)
		attempt++
		c.metrics.IncRetry(method)
		if userNotify != nil {
			userNotify(err, next)
		}
	}

	res, err := Retry(ctx, policy, func(ctx context.Context) (response, error) {
		return c.do(ctx, method, path, encoded, auth)
	})
	if err != nil {
		c.metrics.ObserveCall(method, "error")
		var se *StatusError
		if errors.As(err, &se) {
			return []byte(se.Body), se.Code, err
		}
		return nil, 0, err
	}
	c.metrics.ObserveCall(method, "ok")
	return res.body, res.status, nil
}

// do performs exactly one HTTP attempt.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, auth bool) (response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return response{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return response{}, &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   string(data),
		}
	}
	return response{body: data, status: resp.StatusCode}, nil
}

// decode unmarshals a JSON response body into v.
func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
