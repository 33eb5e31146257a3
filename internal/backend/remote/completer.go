package remote

import (
	"context"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// CompletionRequest is a single-turn completion call.
type CompletionRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Completion is the provider-neutral result of a completion call.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Completer hides the provider SDK behind the two calls the remote tier needs.
type Completer interface {
	Provider() models.LLMProvider
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	// Ping checks reachability without spending tokens.
	Ping(ctx context.Context) error
}
