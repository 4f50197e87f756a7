// internal/gpt/client.go
package gpt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"fitness-bot/config"
	"fitness-bot/internal/prompt"
	"fitness-bot/pkg/logger"
)

type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	topP        float32
	timeout     time.Duration
	logger      *logger.Logger
}

// NewClient builds a gateway for an OpenAI-compatible endpoint. httpClient
// may be nil; tests pass one bound to a mock transport.
func NewClient(cfg config.GPTConfig, httpClient *http.Client, log *logger.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	oc.HTTPClient = httpClient

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		timeout:     cfg.Timeout,
		logger:      log,
	}
}

// Complete sends one chat completion request and returns the first
// choice's text. It never retries.
func (c *Client) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(p.Turns))
	for _, t := range p.Turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		classified := classify(ctx, err)
		c.logger.Error("Completion request failed",
			"model", c.model,
			"turns", len(messages),
			"status", classified.StatusCode,
			"duration", time.Since(start),
			"error", err)
		return "", classified
	}

	if len(resp.Choices) == 0 {
		c.logger.Error("Completion response has no choices", "model", c.model)
		return "", &Error{Kind: ErrBadResponse, Err: errors.New("no choices in response")}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		c.logger.Error("Completion response is empty", "model", c.model)
		return "", &Error{Kind: ErrBadResponse, Err: errors.New("empty message content")}
	}

	c.logger.Debug("Completion received",
		"model", c.model,
		"turns", len(messages),
		"total_tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start))

	return content, nil
}

func classify(ctx context.Context, err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: ErrBadStatus, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: ErrBadStatus, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Kind: ErrBadResponse, Err: err}
	}

	return &Error{Kind: ErrTransport, Err: err}
}
