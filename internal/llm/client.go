// File: internal/llm/client.go

// Package llm streams chat completions from an OpenAI-compatible endpoint.
// No function-calling API is used: every tool invocation travels as literal
// tagged text inside the model's free-form output.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/miraiminds/rouh/api/schemas"
	"github.com/miraiminds/rouh/internal/config"
)

// Client wraps the chat-completions endpoint with streaming and retries.
type Client struct {
	api    *openai.Client
	cfg    config.LLMConfig
	userID string
	logger *zap.Logger
}

// NewClient initializes the client. BaseURL selects the provider; anything
// speaking the OpenAI chat protocol works (OpenRouter, vLLM, ...).
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}
	apiConfig.HTTPClient = &http.Client{Timeout: cfg.APITimeout}

	return &Client{
		api:    openai.NewClientWithConfig(apiConfig),
		cfg:    cfg,
		userID: uuid.NewString(),
		logger: logger.Named("llm_client"),
	}, nil
}

// StreamText sends the system prompt plus history and returns the fully
// assembled response text. Transient provider failures are retried with
// exponential backoff; anything the provider calls a client error is
// permanent.
func (c *Client) StreamText(ctx context.Context, systemPrompt string, history []schemas.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range history {
		messages = append(messages, convertTurn(turn))
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxRetryFor
	b.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		startTime := time.Now()
		content, err := c.streamOnce(ctx, messages)
		if err != nil {
			return c.classifyError(err)
		}

		c.logger.Info("LLM generation complete",
			zap.Duration("duration", time.Since(startTime)),
			zap.Int("response_chars", len(content)))
		responseContent = content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	return responseContent, nil
}

func (c *Client) streamOnce(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Stream:      true,
		User:        c.userID,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("receiving stream chunk: %w", err)
		}
		if len(resp.Choices) > 0 {
			sb.WriteString(resp.Choices[0].Delta.Content)
		}
	}
	return sb.String(), nil
}

// classifyError decides which provider failures are worth retrying.
func (c *Client) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable:
			c.logger.Warn("Transient LLM API error, retrying...",
				zap.Int("status", apiErr.HTTPStatusCode), zap.Error(err))
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	// Network-level failures are transient.
	c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
	return err
}

// convertTurn maps one conversation turn onto the wire message format. A
// single text part collapses to a plain content string; anything richer
// becomes multi-part content with images carried as base64 data URIs.
func convertTurn(turn schemas.Turn) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if turn.Role == schemas.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}

	if len(turn.Parts) == 1 && turn.Parts[0].Type == schemas.PartText {
		return openai.ChatCompletionMessage{Role: role, Content: turn.Parts[0].Text}
	}

	parts := make([]openai.ChatMessagePart, 0, len(turn.Parts))
	for _, p := range turn.Parts {
		switch p.Type {
		case schemas.PartText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case schemas.PartImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Data),
				},
			})
		}
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}
