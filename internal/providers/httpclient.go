package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 30 * time.Second

// HTTPClient is the JSON transport shared by provider adapters. Authentication
// headers are supplied per request by the adapter.
type HTTPClient struct {
	provider string
	baseURL  string
	client   *http.Client
	metrics  *Metrics
	logger   *slog.Logger
}

// NewHTTPClient creates a transport for one provider.
func NewHTTPClient(provider, baseURL string, timeout time.Duration, metrics *Metrics, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		provider: provider,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		metrics:  metrics,
		logger:   logger.With("provider", provider),
	}
}

// Request describes one provider call.
type Request struct {
	Operation string
	Method    string
	Path      string
	Body      any
	Header    http.Header
}

// Response is a non-5xx provider response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Do performs the request. Transport failures, timeouts and 5xx statuses are
// returned as ErrProviderUnavailable; every other status is returned to the caller.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		c.metrics.observe(c.provider, req.Operation, "unavailable", time.Since(start))
		c.logger.Warn("provider request failed", "operation", req.Operation, "error", err)
		return nil, Unavailable(c.provider, req.Operation, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.metrics.observe(c.provider, req.Operation, "unavailable", time.Since(start))
		return nil, Unavailable(c.provider, req.Operation, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode >= 500 {
		c.metrics.observe(c.provider, req.Operation, "unavailable", time.Since(start))
		c.logger.Warn("provider server error",
			"operation", req.Operation,
			"status", httpResp.StatusCode,
		)
		return nil, Unavailable(c.provider, req.Operation, fmt.Errorf("status=%d body=%s", httpResp.StatusCode, truncate(respBody)))
	}

	outcome := "ok"
	if httpResp.StatusCode >= 400 {
		outcome = "rejected"
	}
	c.metrics.observe(c.provider, req.Operation, outcome, time.Since(start))

	c.logger.Debug("provider request completed",
		"operation", req.Operation,
		"status", httpResp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{StatusCode: httpResp.StatusCode, Body: respBody}, nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// BearerHeader builds an Authorization header.
func BearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
