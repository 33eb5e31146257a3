// Package remote implements the paid inference tier on top of a provider SDK.
// Cost is computed from the per-model price table in pkg/models unless the
// configuration overrides it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/DevCabin/ClawLess/internal/backend"
	"github.com/DevCabin/ClawLess/pkg/models"
)

const (
	DefaultModel       = "claude-sonnet-4-20250514"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	DefaultProbeTTL    = 30 * time.Second

	probeTimeout = 5 * time.Second

	// statusOverloaded is Anthropic's "overloaded_error" status.
	statusOverloaded = 529
)

// Config configures a Backend.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// PriceInPerMillion and PriceOutPerMillion override the price table when
	// both are set.
	PriceInPerMillion  float64
	PriceOutPerMillion float64
	ProbeTTL           time.Duration
}

// Backend runs tasks on a remote provider. It imposes no deadline of its own;
// only the caller's context or an explicit Options.Timeout bounds a call.
type Backend struct {
	completer   Completer
	model       string
	temperature float64
	maxTokens   int64
	pricing     models.ModelPricing
	prober      *backend.CachedProbe
}

var _ backend.Backend = (*Backend)(nil)

// New creates a remote Backend. It fails when the model has no price table
// entry and no override is configured.
func New(completer Completer, cfg Config) (*Backend, error) {
	if completer == nil {
		return nil, fmt.Errorf("remote: completer is nil")
	}
	b := &Backend{
		completer:   completer,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int64(cfg.MaxTokens),
	}
	if b.model == "" {
		b.model = DefaultModel
	}
	if b.temperature == 0 {
		b.temperature = DefaultTemperature
	}
	if b.maxTokens <= 0 {
		b.maxTokens = DefaultMaxTokens
	}

	switch {
	case cfg.PriceInPerMillion > 0 && cfg.PriceOutPerMillion > 0:
		b.pricing = models.ModelPricing{
			Provider:        completer.Provider(),
			Model:           b.model,
			InputPerMToken:  cfg.PriceInPerMillion,
			OutputPerMToken: cfg.PriceOutPerMillion,
		}
	default:
		p, ok := models.LookupPricing(b.model)
		if !ok {
			return nil, fmt.Errorf("remote: no pricing for model %q; set remote.price_in_per_million and remote.price_out_per_million", b.model)
		}
		b.pricing = p
	}

	ttl := cfg.ProbeTTL
	if ttl == 0 {
		ttl = DefaultProbeTTL
	}
	b.prober = backend.NewCachedProbe("remote:"+string(completer.Provider()), ttl, b.probe)
	return b, nil
}

// Kind implements backend.Backend.
func (b *Backend) Kind() models.BackendKind { return models.BackendRemote }

// Model returns the configured model identifier.
func (b *Backend) Model() string { return b.model }

// Pricing returns the prices used for cost calculation.
func (b *Backend) Pricing() models.ModelPricing { return b.pricing }

// Execute implements backend.Backend.
func (b *Backend) Execute(ctx context.Context, task *models.Task, opts backend.Options) (*models.Response, error) {
	callCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	maxTokens := b.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	start := time.Now()
	out, err := b.completer.Complete(callCtx, CompletionRequest{
		Model:       b.model,
		Prompt:      backend.BuildPrompt(task),
		MaxTokens:   maxTokens,
		Temperature: opts.TemperatureOr(b.temperature),
	})
	if err != nil {
		e := backend.Classify(models.BackendRemote, "execute", ctx, callCtx, err)
		e.StatusCode = statusCode(err)
		if e.Kind == backend.KindExecution {
			e.Kind = kindForStatus(e.StatusCode)
		}
		if e.Kind == backend.KindUnavailable {
			b.prober.Invalidate()
		}
		return nil, e
	}

	model := out.Model
	if model == "" {
		model = b.model
	}
	return &models.Response{
		Content:     out.Text,
		BackendUsed: models.BackendRemote,
		Model:       model,
		TokensIn:    out.InputTokens,
		TokensOut:   out.OutputTokens,
		CostUSD:     b.pricing.Cost(out.InputTokens, out.OutputTokens),
		Latency:     time.Since(start),
	}, nil
}

// Probe reports reachability using a model listing call, cached briefly, so
// health checks never pay for inference.
func (b *Backend) Probe(ctx context.Context) bool {
	return b.prober.Probe(ctx)
}

func (b *Backend) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return b.completer.Ping(ctx) == nil
}

// statusCode extracts the HTTP status from SDK errors, or 0.
func statusCode(err error) int {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode
	}
	return 0
}

// kindForStatus classifies a provider HTTP status. Overload and gateway
// statuses mean the provider is down for now; everything else is a failure
// of this request.
func kindForStatus(code int) backend.ErrorKind {
	switch code {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return backend.KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable, statusOverloaded:
		return backend.KindUnavailable
	}
	return backend.KindExecution
}

// NewCompleter builds the completer for provider.
func NewCompleter(provider models.LLMProvider, apiKey, baseURL string, maxRetries int) (Completer, error) {
	switch provider {
	case models.ProviderAnthropic, "":
		return NewAnthropicCompleter(apiKey, baseURL, maxRetries)
	case models.ProviderOpenAI:
		return NewOpenAICompleter(apiKey, baseURL, maxRetries)
	}
	return nil, fmt.Errorf("remote: unsupported provider %q", provider)
}
