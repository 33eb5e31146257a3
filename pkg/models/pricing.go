package models

// LLMProvider represents a supported remote API provider.
type LLMProvider string

const (
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderOpenAI    LLMProvider = "openai"
)

// ModelPricing defines the cost per million tokens for a remote model.
type ModelPricing struct {
	Provider        LLMProvider `json:"provider"`
	Model           string      `json:"model"`
	InputPerMToken  float64     `json:"input_per_m_token"`
	OutputPerMToken float64     `json:"output_per_m_token"`
}

// Cost returns the USD cost of a call with the given token counts.
func (p ModelPricing) Cost(tokensIn, tokensOut int64) float64 {
	return float64(tokensIn)*p.InputPerMToken/1_000_000 +
		float64(tokensOut)*p.OutputPerMToken/1_000_000
}

// DefaultPricing is the fixed price table, keyed by model identifier.
var DefaultPricing = map[string]ModelPricing{
	// Anthropic
	"claude-sonnet-4-20250514":   {ProviderAnthropic, "claude-sonnet-4-20250514", 3.00, 15.00},
	"claude-sonnet-4-5-20250929": {ProviderAnthropic, "claude-sonnet-4-5-20250929", 3.00, 15.00},
	"claude-opus-4-20250514":     {ProviderAnthropic, "claude-opus-4-20250514", 15.00, 75.00},
	"claude-3-5-haiku-20241022":  {ProviderAnthropic, "claude-3-5-haiku-20241022", 0.80, 4.00},
	// OpenAI
	"gpt-4o":      {ProviderOpenAI, "gpt-4o", 2.50, 10.00},
	"gpt-4o-mini": {ProviderOpenAI, "gpt-4o-mini", 0.15, 0.60},
	"gpt-4.1":     {ProviderOpenAI, "gpt-4.1", 2.00, 8.00},
}

// LookupPricing returns the table entry for model.
func LookupPricing(model string) (ModelPricing, bool) {
	p, ok := DefaultPricing[model]
	return p, ok
}
