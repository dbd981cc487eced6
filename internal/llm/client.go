package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultSystemPrompt = "You are a helpful assistant."

// ErrEmptyResponse is returned when the model produced no text
var ErrEmptyResponse = errors.New("empty response from LLM")

// Completer produces a text completion for a prompt
type Completer interface {
	Complete(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// Config holds the connection settings of an Anthropic-compatible endpoint
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
}

// Client calls an Anthropic-compatible Messages API
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewClient creates a new LLM client
func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	return &Client{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(maxTokens),
		timeout:   cfg.Timeout,
	}
}

// Complete sends prompt as a single user message and joins the text blocks of
// the reply. Thinking blocks are skipped.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("LLM API error (status %d): %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}

	var texts []string
	for _, block := range message.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}

	result := strings.Join(texts, "\n")
	if strings.TrimSpace(result) == "" {
		return "", ErrEmptyResponse
	}

	slog.Debug("LLM completion received",
		"model", c.model,
		"blocks", len(message.Content),
		"chars", len(result),
		"duration", time.Since(start))

	return result, nil
}
