package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/DevCabin/ClawLess/internal/backend"
	"github.com/DevCabin/ClawLess/pkg/models"
)

type fakeCompleter struct {
	pings   atomic.Int32
	pingErr error
	last    CompletionRequest
	out     *Completion
	err     error
	block   bool
}

func (f *fakeCompleter) Provider() models.LLMProvider { return models.ProviderAnthropic }

func (f *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	f.last = req
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.out, f.err
}

func (f *fakeCompleter) Ping(context.Context) error {
	f.pings.Add(1)
	return f.pingErr
}

func TestNew_UnknownModelWithoutPricing(t *testing.T) {
	_, err := New(&fakeCompleter{}, Config{Model: "mystery-model"})
	require.Error(t, err)

	b, err := New(&fakeCompleter{}, Config{Model: "mystery-model", PriceInPerMillion: 1, PriceOutPerMillion: 2})
	require.NoError(t, err)
	assert.Equal(t, 1.0, b.Pricing().InputPerMToken)
}

func TestExecute_CostAndDefaults(t *testing.T) {
	f := &fakeCompleter{out: &Completion{Text: "looks fine", InputTokens: 1200, OutputTokens: 300}}
	b, err := New(f, Config{Model: "claude-sonnet-4-20250514"})
	require.NoError(t, err)

	task := &models.Task{Kind: models.KindCodeReview, Prompt: "Review this code", Context: "func main() {}"}
	resp, err := b.Execute(context.Background(), task, backend.Options{})
	require.NoError(t, err)

	assert.Equal(t, models.BackendRemote, resp.BackendUsed)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Model)
	assert.InDelta(t, 0.0081, resp.CostUSD, 1e-12)
	assert.Greater(t, resp.CostUSD, 0.0)

	assert.Equal(t, DefaultTemperature, f.last.Temperature)
	assert.Equal(t, int64(DefaultMaxTokens), f.last.MaxTokens)
	assert.Equal(t, "Context:\nfunc main() {}\n\nTask:\nReview this code", f.last.Prompt)
}

func TestExecute_ErrorCarriesKind(t *testing.T) {
	f := &fakeCompleter{err: errors.New("connection reset")}
	b, err := New(f, Config{})
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), &models.Task{Prompt: "x"}, backend.Options{})
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backend.KindExecution, be.Kind)
	assert.Equal(t, models.BackendRemote, be.Backend)
}

func TestExecute_CallerCancellation(t *testing.T) {
	f := &fakeCompleter{block: true}
	b, err := New(f, Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = b.Execute(ctx, &models.Task{Prompt: "x"}, backend.Options{})
	assert.Equal(t, backend.KindCancelled, backend.KindOf(err))
}

func TestExecute_ExplicitTimeout(t *testing.T) {
	f := &fakeCompleter{block: true}
	b, err := New(f, Config{})
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), &models.Task{Prompt: "x"}, backend.Options{Timeout: 20 * time.Millisecond})
	assert.Equal(t, backend.KindTimeout, backend.KindOf(err))
}

func TestProbe_Cached(t *testing.T) {
	f := &fakeCompleter{}
	b, err := New(f, Config{ProbeTTL: time.Minute})
	require.NoError(t, err)

	assert.True(t, b.Probe(context.Background()))
	assert.True(t, b.Probe(context.Background()))
	assert.Equal(t, int32(1), f.pings.Load())
}

func TestProbe_FailureIsFalse(t *testing.T) {
	f := &fakeCompleter{pingErr: errors.New("401")}
	b, err := New(f, Config{})
	require.NoError(t, err)
	assert.False(t, b.Probe(context.Background()))
}

func TestAnthropicCompleter_WireFormat(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages"):
			body, _ = io.ReadAll(r.Body)
			_, _ = w.Write([]byte(`{
				"id": "msg_01",
				"type": "message",
				"role": "assistant",
				"model": "claude-sonnet-4-20250514",
				"content": [{"type": "text", "text": "No issues found."}],
				"stop_reason": "end_turn",
				"stop_sequence": null,
				"usage": {"input_tokens": 1000, "output_tokens": 200}
			}`))
		case strings.HasSuffix(r.URL.Path, "/models"):
			_, _ = w.Write([]byte(`{"data": [{"id": "claude-sonnet-4-20250514", "type": "model", "display_name": "Claude Sonnet 4", "created_at": "2025-05-14T00:00:00Z"}], "has_more": false, "first_id": "claude-sonnet-4-20250514", "last_id": "claude-sonnet-4-20250514"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewAnthropicCompleter("test-key", srv.URL, 0)
	require.NoError(t, err)
	b, err := New(c, Config{Model: "claude-sonnet-4-20250514"})
	require.NoError(t, err)

	resp, err := b.Execute(context.Background(), &models.Task{Prompt: "Review this code for security issues"}, backend.Options{})
	require.NoError(t, err)
	assert.Equal(t, "No issues found.", resp.Content)
	assert.Equal(t, int64(1000), resp.TokensIn)
	assert.Equal(t, int64(200), resp.TokensOut)
	assert.InDelta(t, 0.006, resp.CostUSD, 1e-12)

	assert.Equal(t, "claude-sonnet-4-20250514", gjson.GetBytes(body, "model").String())
	assert.Equal(t, int64(DefaultMaxTokens), gjson.GetBytes(body, "max_tokens").Int())
	assert.Equal(t, 0.7, gjson.GetBytes(body, "temperature").Float())
	assert.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, int64(1), gjson.GetBytes(body, "messages.#").Int())
	assert.Contains(t, gjson.GetBytes(body, "messages.0.content").Raw, "Review this code for security issues")

	assert.True(t, b.Probe(context.Background()))
}

func TestAnthropicCompleter_HTTPErrorStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   backend.ErrorKind
	}{
		{http.StatusInternalServerError, backend.KindExecution},
		{http.StatusBadRequest, backend.KindExecution},
		{http.StatusRequestTimeout, backend.KindTimeout},
		{http.StatusGatewayTimeout, backend.KindTimeout},
		{http.StatusBadGateway, backend.KindUnavailable},
		{http.StatusServiceUnavailable, backend.KindUnavailable},
		{529, backend.KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"failed"}}`))
			}))
			defer srv.Close()

			c, err := NewAnthropicCompleter("test-key", srv.URL, 0)
			require.NoError(t, err)
			b, err := New(c, Config{})
			require.NoError(t, err)

			_, err = b.Execute(context.Background(), &models.Task{Prompt: "x"}, backend.Options{})
			var be *backend.Error
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.kind, be.Kind)
			assert.Equal(t, tt.status, be.StatusCode)
		})
	}
}

func TestExecute_UnavailableDropsCachedProbe(t *testing.T) {
	f := &fakeCompleter{}
	b, err := New(f, Config{ProbeTTL: time.Minute})
	require.NoError(t, err)

	assert.True(t, b.Probe(context.Background()))
	assert.True(t, b.Probe(context.Background()))
	assert.Equal(t, int32(1), f.pings.Load())

	f.err = &anthropic.Error{
		StatusCode: http.StatusServiceUnavailable,
		Request:    httptest.NewRequest(http.MethodPost, "/v1/messages", nil),
		Response:   &http.Response{StatusCode: http.StatusServiceUnavailable},
	}
	_, err = b.Execute(context.Background(), &models.Task{Prompt: "x"}, backend.Options{})
	assert.Equal(t, backend.KindUnavailable, backend.KindOf(err))

	f.pingErr = errors.New("down")
	assert.False(t, b.Probe(context.Background()))
	assert.Equal(t, int32(2), f.pings.Load())
}

func TestOpenAICompleter_WireFormat(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			body, _ = io.ReadAll(r.Body)
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1700000000,
				"model": "gpt-4o",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "done"}, "finish_reason": "stop"}],
				"usage": {"prompt_tokens": 400, "completion_tokens": 100, "total_tokens": 500}
			}`))
		case strings.HasSuffix(r.URL.Path, "/models"):
			_, _ = w.Write([]byte(`{"object": "list", "data": [{"id": "gpt-4o", "object": "model", "created": 1, "owned_by": "openai"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter("test-key", srv.URL, 0)
	require.NoError(t, err)
	b, err := New(c, Config{Model: "gpt-4o"})
	require.NoError(t, err)

	resp, err := b.Execute(context.Background(), &models.Task{Prompt: "Plan the migration"}, backend.Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	// 400 * 2.50/1M + 100 * 10.00/1M
	assert.InDelta(t, 0.002, resp.CostUSD, 1e-12)

	assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
	assert.Equal(t, 0.7, gjson.GetBytes(body, "temperature").Float())
	assert.Equal(t, "Plan the migration", gjson.GetBytes(body, "messages.0.content").String())

	assert.True(t, b.Probe(context.Background()))
}

func TestNewCompleter(t *testing.T) {
	_, err := NewCompleter("gemini", "k", "", 0)
	assert.Error(t, err)

	_, err = NewCompleter(models.ProviderAnthropic, "", "", 0)
	assert.Error(t, err)

	c, err := NewCompleter(models.ProviderOpenAI, "k", "", 0)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOpenAI, c.Provider())
}
