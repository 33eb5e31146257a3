// Package quality gates local-backend responses before they are accepted.
//
// A response passes when it satisfies the task's structural expectations
// (parseable JSON with the required fields), its minimum length, and a cheap
// hallucination heuristic. Remote responses are never validated here.
package quality

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// Rule names the check that rejected a response.
type Rule string

const (
	RuleNone           Rule = ""
	RuleStructured     Rule = "structured_output"
	RuleRequiredField  Rule = "required_field"
	RuleMinLength      Rule = "min_length"
	RulePlaceholder    Rule = "placeholder"
	RuleEntityMismatch Rule = "entity_mismatch"
)

// DefaultPlaceholderMarkers are matched case-insensitively as substrings.
var DefaultPlaceholderMarkers = []string{
	"todo",
	"fixme",
	"example.com",
	"placeholder",
	"lorem ipsum",
}

// Result is the outcome of Evaluate.
type Result struct {
	Passed bool   `json:"passed"`
	Rule   Rule   `json:"rule,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func pass() Result { return Result{Passed: true} }

func fail(rule Rule, detail string) Result {
	return Result{Rule: rule, Detail: detail}
}

// Validator checks responses. It holds no mutable state.
type Validator struct {
	entities     EntityExtractor
	placeholders []string
}

// Option customizes a Validator.
type Option func(*Validator)

// WithEntityExtractor swaps the entity-extraction heuristic.
func WithEntityExtractor(e EntityExtractor) Option {
	return func(v *Validator) {
		v.entities = e
	}
}

// WithPlaceholderMarkers replaces the placeholder list.
func WithPlaceholderMarkers(markers ...string) Option {
	return func(v *Validator) {
		v.placeholders = markers
	}
}

// NewValidator returns a Validator with the default heuristics.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		entities:     RegexEntityExtractor{},
		placeholders: DefaultPlaceholderMarkers,
	}
	for _, opt := range opts {
		opt(v)
	}
	lowered := make([]string, 0, len(v.placeholders))
	for _, m := range v.placeholders {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	v.placeholders = lowered
	return v
}

// Validate reports whether resp is acceptable for task.
func (v *Validator) Validate(resp *models.Response, task *models.Task) bool {
	return v.Evaluate(resp, task).Passed
}

// Evaluate runs every check and reports the first failing rule.
func (v *Validator) Evaluate(resp *models.Response, task *models.Task) Result {
	if resp == nil {
		return fail(RuleStructured, "no response")
	}
	content := resp.Content

	if task.ExpectsStructuredOutput {
		doc := StripCodeFence(content)
		if !gjson.Valid(doc) {
			return fail(RuleStructured, "content is not valid JSON")
		}
		// Required fields are literal top-level keys, not gjson paths.
		keys := gjson.Parse(doc).Map()
		for _, field := range task.RequiredFields {
			if _, ok := keys[field]; !ok {
				return fail(RuleRequiredField, "missing field "+field)
			}
		}
	}

	if task.MinLength > 0 && utf8.RuneCountInString(content) < task.MinLength {
		return fail(RuleMinLength, "content shorter than required")
	}

	lower := strings.ToLower(content)
	for _, marker := range v.placeholders {
		if strings.Contains(lower, marker) {
			return fail(RulePlaceholder, "contains "+marker)
		}
	}

	if task.Context != "" && !entitiesGrounded(v.entities, content, task.Context) {
		return fail(RuleEntityMismatch, "most response entities are absent from the context")
	}

	return pass()
}

// entitiesGrounded fails when strictly more than half of the response's
// entities do not appear among the context's entities.
func entitiesGrounded(e EntityExtractor, content, context string) bool {
	respEntities := e.Extract(content)
	if len(respEntities) == 0 {
		return true
	}
	ctxEntities := e.Extract(context)

	unmatched := 0
	for entity := range respEntities {
		if _, ok := ctxEntities[entity]; !ok {
			unmatched++
		}
	}
	return unmatched*2 <= len(respEntities)
}

// StripCodeFence removes a surrounding markdown code fence, if present.
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```JSON")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
