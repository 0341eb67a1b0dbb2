// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultMaxTokens bounds a sub-agent reply when the config leaves it unset.
const defaultMaxTokens = 4096

// ClaudeClient is a ModelClient backed by the Anthropic Messages API.
// Retries are left to the Spawner's fallback, so the SDK's own retry is
// disabled.
type ClaudeClient struct {
	client    anthropic.Client
	maxTokens int64
}

// ClaudeOption configures a ClaudeClient.
type ClaudeOption func(*claudeSettings)

type claudeSettings struct {
	baseURL    string
	httpClient *http.Client
	maxTokens  int
}

// WithBaseURL points the client at another endpoint, e.g. a test server.
func WithBaseURL(u string) ClaudeOption { return func(s *claudeSettings) { s.baseURL = u } }

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) ClaudeOption {
	return func(s *claudeSettings) { s.httpClient = c }
}

// WithMaxTokens sets the reply token limit.
func WithMaxTokens(n int) ClaudeOption { return func(s *claudeSettings) { s.maxTokens = n } }

// NewClaudeClient returns a client authenticated with apiKey.
func NewClaudeClient(apiKey string, opts ...ClaudeOption) (*ClaudeClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	var s claudeSettings
	for _, o := range opts {
		o(&s)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.httpClient))
	}
	maxTokens := s.maxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &ClaudeClient{client: anthropic.NewClient(reqOpts...), maxTokens: int64(maxTokens)}, nil
}

// Complete sends prompt as a single user message and returns the
// concatenated text blocks of the reply.
func (c *ClaudeClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("calling Claude API: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no text content in Claude API response")
	}
	return b.String(), nil
}
