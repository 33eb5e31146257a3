// Package models defines the core data structures used across ClawLess.
package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskKind classifies the inference work a task asks for.
type TaskKind string

const (
	KindClassification      TaskKind = "classification"
	KindExtraction          TaskKind = "extraction"
	KindPlanning            TaskKind = "planning"
	KindErrorRecovery       TaskKind = "error_recovery"
	KindWorkflowCompilation TaskKind = "workflow_compilation"
	KindCodeReview          TaskKind = "code_review"
	KindSecurityAnalysis    TaskKind = "security_analysis"
)

// AllTaskKinds lists every declared kind. The complexity analyzer refuses to
// start unless its base-score table covers each one.
var AllTaskKinds = []TaskKind{
	KindClassification,
	KindExtraction,
	KindPlanning,
	KindErrorRecovery,
	KindWorkflowCompilation,
	KindCodeReview,
	KindSecurityAnalysis,
}

// BackendKind identifies one of the two inference tiers.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"
)

// Valid reports whether b is a known tier.
func (b BackendKind) Valid() bool {
	return b == BackendLocal || b == BackendRemote
}

// Recommendation is the analyzer's verdict on where a task should run.
type Recommendation string

const (
	RecommendNone   Recommendation = "none"
	RecommendLocal  Recommendation = "local"
	RecommendRemote Recommendation = "remote"
)

// Task is a unit of inference work submitted to the router. It is never
// mutated after submission.
type Task struct {
	Kind                    TaskKind `json:"kind"`
	Prompt                  string   `json:"prompt"`
	Context                 string   `json:"context,omitempty"`
	ToolCount               int      `json:"tool_count,omitempty"`
	ExpectsStructuredOutput bool     `json:"expects_structured_output,omitempty"`
	RequiredFields          []string `json:"required_fields,omitempty"`
	MinLength               int      `json:"min_length,omitempty"`
	IsRetry                 bool     `json:"is_retry,omitempty"`
}

// Validate checks the fields a router cannot work without.
func (t *Task) Validate() error {
	if t == nil {
		return fmt.Errorf("task is nil")
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return fmt.Errorf("task prompt is empty")
	}
	if t.ToolCount < 0 {
		return fmt.Errorf("task tool_count must not be negative")
	}
	if t.MinLength < 0 {
		return fmt.Errorf("task min_length must not be negative")
	}
	return nil
}

// Response is the successful result of one routing call.
type Response struct {
	Content     string        `json:"content"`
	BackendUsed BackendKind   `json:"backend_used"`
	Model       string        `json:"model,omitempty"`
	TokensIn    int64         `json:"tokens_in"`
	TokensOut   int64         `json:"tokens_out"`
	CostUSD     float64       `json:"cost_usd"`
	Latency     time.Duration `json:"latency_ns"`
}

// CostRecord is the daily aggregate for one backend. Date is a UTC calendar
// day formatted as DateLayout.
type CostRecord struct {
	Date           string      `json:"date" db:"date"`
	Backend        BackendKind `json:"backend" db:"backend"`
	TokensIn       int64       `json:"tokens_in" db:"tokens_in"`
	TokensOut      int64       `json:"tokens_out" db:"tokens_out"`
	CostUSD        float64     `json:"cost_usd" db:"cost_usd"`
	ExecutionCount int64       `json:"execution_count" db:"execution_count"`
	UpdatedAt      time.Time   `json:"updated_at,omitempty" db:"updated_at"`
}

// DateLayout is the key format for ledger dates.
const DateLayout = "2006-01-02"

// LedgerDate returns the UTC ledger key for t.
func LedgerDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// RoutingMode selects which tiers the router may use.
type RoutingMode string

const (
	ModeAuto       RoutingMode = "auto"
	ModeRemoteOnly RoutingMode = "remote_only"
	ModeLocalOnly  RoutingMode = "local_only"
)

// ParseRoutingMode accepts both underscore and hyphen spellings.
func ParseRoutingMode(s string) (RoutingMode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "auto":
		return ModeAuto, nil
	case "remote_only":
		return ModeRemoteOnly, nil
	case "local_only":
		return ModeLocalOnly, nil
	}
	return "", fmt.Errorf("unknown routing mode %q", s)
}

// RouterConfig is the read-only slice of configuration the router consumes.
type RouterConfig struct {
	Mode            RoutingMode
	FallbackEnabled bool
	LocalTimeout    time.Duration
}
