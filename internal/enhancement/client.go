// Package enhancement provides the client for the external language-model
// completion service used by the enhance and structure stages.
package enhancement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Client calls an OpenAI-compatible completion endpoint.
type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClient creates a completion client. Every call is bounded by timeout; the
// caller's context can cancel earlier.
func NewClient(cfg *Config, timeout time.Duration, logger *slog.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:       openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   timeout,
		logger:    logger.With("system", "enhancement"),
	}
}

// Complete sends prompt to the completion service and returns the response text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion response contained no choices")
	}

	c.logger.Info(
		"completion received",
		"model", c.model,
		"prompt_chars", len(prompt),
		"duration", time.Since(start),
	)

	return resp.Choices[0].Message.Content, nil
}

// IsRetryable reports whether err is a transient completion-service failure:
// rate limiting, server-side errors, timeouts, or network faults.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
