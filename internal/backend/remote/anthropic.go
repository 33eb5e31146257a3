package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// AnthropicCompleter calls the Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
}

// NewAnthropicCompleter creates a completer. baseURL may be empty.
func NewAnthropicCompleter(apiKey, baseURL string, maxRetries int) (*AnthropicCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(maxRetries),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicCompleter{client: anthropic.NewClient(opts...)}, nil
}

// Provider implements Completer.
func (a *AnthropicCompleter) Provider() models.LLMProvider { return models.ProviderAnthropic }

// Complete implements Completer.
func (a *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &Completion{
		Text:         content.String(),
		Model:        string(resp.Model),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// Ping lists a single model.
func (a *AnthropicCompleter) Ping(ctx context.Context) error {
	if _, err := a.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		return fmt.Errorf("anthropic models list: %w", err)
	}
	return nil
}
