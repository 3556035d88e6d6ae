// Package httpclient provides the outbound HTTP client used by API sources.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a single request when no timeout is configured
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the largest response body the client accepts
	MaxResponseSize = 100 * 1024 * 1024

	// UserAgent is sent with every request
	UserAgent = "recordsync/1.0"

	// maxErrorBody bounds how much of an error response ends up in HTTPError
	maxErrorBody = 512
)

// ErrResponseTooLarge is returned when a response body exceeds the size limit
var ErrResponseTooLarge = errors.New("response exceeds maximum allowed size")

// Client fetches resources over HTTP
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/stacklok/recordsync/internal/httpclient Client
type Client interface {
	// Get fetches url and returns the response body. Non-2xx responses are
	// returned as *HTTPError.
	Get(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient is the net/http implementation of Client
type DefaultClient struct {
	client  *http.Client
	headers map[string]string
	maxSize int64
}

// ClientOption configures a DefaultClient
type ClientOption func(*DefaultClient)

// WithHeaders adds headers to every request
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *DefaultClient) {
		if c.headers == nil {
			c.headers = make(map[string]string, len(headers))
		}
		maps.Copy(c.headers, headers)
	}
}

// WithMaxResponseSize overrides MaxResponseSize
func WithMaxResponseSize(n int64) ClientOption {
	return func(c *DefaultClient) {
		c.maxSize = n
	}
}

// NewDefaultClient creates a client whose requests time out after timeout.
// A zero timeout means DefaultTimeout.
func NewDefaultClient(timeout time.Duration, opts ...ClientOption) *DefaultClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{
		client:  &http.Client{Timeout: timeout},
		maxSize: MaxResponseSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get implements Client
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := string(body)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, NewHTTPError(resp.StatusCode, url, message)
	}

	if resp.ContentLength > c.maxSize {
		return nil, fmt.Errorf("%w: content length %d bytes, limit %s",
			ErrResponseTooLarge, resp.ContentLength, formatMB(c.maxSize))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("%w: limit %s", ErrResponseTooLarge, formatMB(c.maxSize))
	}
	return data, nil
}

func formatMB(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}
