// Package backend defines the contract shared by the local and remote
// inference tiers, the error kinds they report, and helpers both use.
package backend

import (
	"context"
	"strings"
	"time"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// Backend executes tasks against one inference tier.
type Backend interface {
	// Kind identifies the tier.
	Kind() models.BackendKind

	// Execute runs task. Implementations must abandon the in-flight call when
	// ctx is done or opts.Timeout elapses and return an *Error whose Kind is
	// KindTimeout or KindCancelled.
	Execute(ctx context.Context, task *models.Task, opts Options) (*models.Response, error)

	// Probe reports liveness. It never returns an error; failures are false.
	Probe(ctx context.Context) bool
}

// Options are per-call overrides. Zero values mean "use the backend default".
type Options struct {
	Temperature *float64
	Timeout     time.Duration
	MaxTokens   int
}

// Float returns a pointer to f, for Options.Temperature.
func Float(f float64) *float64 { return &f }

// TemperatureOr returns the override or def.
func (o Options) TemperatureOr(def float64) float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return def
}

const structuredInstruction = "Respond with valid JSON only. Do not include any prose, explanation, or markdown."

// BuildPrompt composes the text sent to a model: the context block (if any),
// the task prompt, and a JSON-only instruction when structured output is
// expected.
func BuildPrompt(task *models.Task) string {
	var b strings.Builder
	if task.Context != "" {
		b.WriteString("Context:\n")
		b.WriteString(task.Context)
		b.WriteString("\n\nTask:\n")
	}
	b.WriteString(task.Prompt)
	if task.ExpectsStructuredOutput {
		b.WriteString("\n\n")
		b.WriteString(structuredInstruction)
		if len(task.RequiredFields) > 0 {
			b.WriteString(" The JSON must include these fields: ")
			b.WriteString(strings.Join(task.RequiredFields, ", "))
			b.WriteString(".")
		}
	}
	return b.String()
}
