// Package local implements the free inference tier against an Ollama-compatible
// HTTP server.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DevCabin/ClawLess/internal/backend"
	"github.com/DevCabin/ClawLess/pkg/models"
)

const (
	DefaultEndpoint    = "http://localhost:11434"
	DefaultModel       = "llama3.2"
	DefaultTimeout     = 5000 * time.Millisecond
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 1024

	probeTimeout = 2 * time.Second

	// 10 MB cap on generate responses.
	maxResponseBodySize = 10 << 20
)

// Config configures a Backend. Zero fields take the package defaults.
type Config struct {
	Endpoint    string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	ProbeTTL    time.Duration
	HTTPClient  *http.Client
}

// Backend talks to the local model server. Cost is always zero.
type Backend struct {
	endpoint    string
	model       string
	timeout     time.Duration
	temperature float64
	maxTokens   int
	client      *http.Client
	prober      *backend.CachedProbe
}

var _ backend.Backend = (*Backend)(nil)

// New creates a local Backend.
func New(cfg Config) *Backend {
	b := &Backend{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      cfg.HTTPClient,
	}
	if b.endpoint == "" {
		b.endpoint = DefaultEndpoint
	}
	if b.model == "" {
		b.model = DefaultModel
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	if b.temperature == 0 {
		b.temperature = DefaultTemperature
	}
	if b.maxTokens <= 0 {
		b.maxTokens = DefaultMaxTokens
	}
	if b.client == nil {
		// Deadlines come from the request context.
		b.client = &http.Client{}
	}
	b.prober = backend.NewCachedProbe("local:"+b.endpoint, cfg.ProbeTTL, b.probe)
	return b
}

// Kind implements backend.Backend.
func (b *Backend) Kind() models.BackendKind { return models.BackendLocal }

// Model returns the configured model identifier.
func (b *Backend) Model() string { return b.model }

// Execute sends task to /api/generate bounded by opts.Timeout, or the
// configured timeout when unset. On expiry the HTTP request is cancelled.
func (b *Backend) Execute(ctx context.Context, task *models.Task, opts backend.Options) (*models.Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.timeout
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(generateRequest{
		Model:  b.model,
		Prompt: backend.BuildPrompt(task),
		Stream: false,
		Options: generateOptions{
			Temperature: opts.TemperatureOr(b.temperature),
			NumPredict:  maxTokens,
		},
	})
	if err != nil {
		return nil, b.execErr(0, fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, b.endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, b.execErr(0, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, backend.Classify(models.BackendLocal, "execute", ctx, callCtx, err)
	}
	defer resp.Body.Close()

	// Read limit+1 to distinguish "exactly at limit" from "over limit".
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize+1))
	if err != nil {
		return nil, backend.Classify(models.BackendLocal, "execute", ctx, callCtx, err)
	}
	if len(body) > maxResponseBodySize {
		return nil, b.execErr(resp.StatusCode, fmt.Errorf("response too large"))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, b.execErr(resp.StatusCode, fmt.Errorf("unexpected status: %s", snippet(body)))
	}

	var gen generateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		return nil, b.execErr(resp.StatusCode, fmt.Errorf("decoding response: %w", err))
	}
	if gen.Error != "" {
		return nil, b.execErr(resp.StatusCode, fmt.Errorf("model error: %s", gen.Error))
	}

	model := gen.Model
	if model == "" {
		model = b.model
	}
	return &models.Response{
		Content:     gen.Response,
		BackendUsed: models.BackendLocal,
		Model:       model,
		TokensIn:    gen.PromptEvalCount,
		TokensOut:   gen.EvalCount,
		CostUSD:     0,
		Latency:     time.Since(start),
	}, nil
}

// Probe reports whether the server answers /api/tags.
func (b *Backend) Probe(ctx context.Context) bool {
	return b.prober.Probe(ctx)
}

func (b *Backend) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode == http.StatusOK
}

func (b *Backend) execErr(status int, err error) *backend.Error {
	return &backend.Error{
		Backend:    models.BackendLocal,
		Kind:       backend.KindExecution,
		Op:         "execute",
		StatusCode: status,
		Err:        err,
	}
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
