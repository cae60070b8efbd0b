// Package parsing provides the client for the external PDF parsing service.
// The service converts document bytes into structured markdown text; premium
// mode is an opaque fidelity/cost knob forwarded as a request parameter.
package parsing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// StatusError reports a non-2xx response from the parsing service.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("parsing service returned %s", e.Status)
}

type parseResponse struct {
	Text string `json:"text"`
}

// Client calls the external parsing service over HTTP.
type Client struct {
	http     *http.Client
	endpoint string
	apiKey   string
	premium  bool
	logger   *slog.Logger
}

// NewClient creates a parsing client. Every call is bounded by timeout; the
// caller's context can cancel earlier.
func NewClient(cfg *Config, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		http:     &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		premium:  cfg.UsePremiumMode,
		logger:   logger.With("system", "parsing"),
	}
}

// Parse submits document bytes and returns the extracted structured text.
func (c *Client) Parse(ctx context.Context, document []byte) (string, error) {
	target, err := c.buildURL()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(document))
	if err != nil {
		return "", fmt.Errorf("build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("parse request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var parsed parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode parse response: %w", err)
	}

	c.logger.Info(
		"document parsed",
		"bytes", len(document),
		"premium", c.premium,
		"duration", time.Since(start),
	)

	return parsed.Text, nil
}

func (c *Client) buildURL() (string, error) {
	target, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid parsing endpoint: %w", err)
	}

	if c.premium {
		q := target.Query()
		q.Set("mode", "premium")
		target.RawQuery = q.Encode()
	}

	return target.String(), nil
}

// IsRetryable reports whether err is a transient parsing-service failure:
// rate limiting, server-side errors, timeouts, or network faults. Client
// errors (4xx other than 429) indicate malformed input and are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
