package remote

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// OpenAICompleter calls the Chat Completions API.
type OpenAICompleter struct {
	client openai.Client
}

// NewOpenAICompleter creates a completer. baseURL may be empty.
func NewOpenAICompleter(apiKey, baseURL string, maxRetries int) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(maxRetries),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompleter{client: openai.NewClient(opts...)}, nil
}

// Provider implements Completer.
func (o *OpenAICompleter) Provider() models.LLMProvider { return models.ProviderOpenAI }

// Complete implements Completer.
func (o *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		MaxCompletionTokens: openai.Int(req.MaxTokens),
		Temperature:         openai.Float(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Ping lists models.
func (o *OpenAICompleter) Ping(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai models list: %w", err)
	}
	return nil
}
