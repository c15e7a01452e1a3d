package httpclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Header names used for inter-service calls.
const (
	SignatureHeader = "X-SUITE-SIG"
	RequestIDHeader = "X-Request-Id"
)

// Default per-operation timeouts. Callers with slower collaborators (vision,
// audio, tool loop) pass explicit overrides.
const (
	DefaultGetTimeout  = 30 * time.Second
	DefaultPostTimeout = 60 * time.Second
)

type ctxKey int

const requestIDKey ctxKey = 0

// WithRequestID stores the correlation id on the context so outbound calls
// and log lines carry it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the correlation id carried by the context, or "".
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Sign computes the hex HMAC-SHA256 signature for a request body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature with a constant-time compare.
func Verify(secret string, body []byte, sig string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// Client is the shared outbound JSON client for collaborator services.
// JSON POSTs are HMAC-signed when a shared secret is configured; GETs are
// unsigned. Every call propagates the request id from the context.
type Client struct {
	http   *http.Client
	secret string
	logger *zap.Logger
}

// New creates a client with a tuned transport shared across all services.
func New(secret string, logger *zap.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		http:   &http.Client{Transport: transport},
		secret: secret,
		logger: logger,
	}
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	return c.GetJSONTimeout(ctx, url, out, DefaultGetTimeout)
}

// GetJSONTimeout is GetJSON with an explicit per-call timeout.
func (c *Client) GetJSONTimeout(ctx context.Context, url string, out interface{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.decorate(ctx, req, nil)

	return c.do(req, out)
}

// PostJSON performs a signed JSON POST and decodes the response into out.
// out may be nil when the response body is irrelevant.
func (c *Client) PostJSON(ctx context.Context, url string, body interface{}, out interface{}) error {
	return c.PostJSONTimeout(ctx, url, body, out, DefaultPostTimeout)
}

// PostJSONTimeout is PostJSON with an explicit per-call timeout.
func (c *Client) PostJSONTimeout(ctx context.Context, url string, body interface{}, out interface{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(ctx, req, data)

	return c.do(req, out)
}

// decorate attaches the request id and, for POST bodies, the HMAC signature.
func (c *Client) decorate(ctx context.Context, req *http.Request, body []byte) {
	if id := RequestIDFrom(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}
	if c.secret != "" && body != nil {
		req.Header.Set(SignatureHeader, Sign(c.secret, body))
	}
}

// StatusError is a non-2xx response from a collaborator.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
