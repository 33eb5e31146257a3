// Package complexity scores inference tasks and recommends a backend tier.
//
// The score is additive and deterministic: a per-kind base score plus bonuses
// for long context, ambiguous wording, reasoning-heavy kinds, tool fan-out and
// retries. Scores below LocalThreshold are deterministic work that should never
// reach a model; scores at or above RemoteThreshold go straight to the paid tier.
package complexity

import (
	"fmt"
	"unicode/utf8"

	"github.com/DevCabin/ClawLess/pkg/models"
)

const (
	// LocalThreshold is the lowest score routed to any backend.
	LocalThreshold = 2
	// RemoteThreshold is the lowest score routed directly to the remote tier.
	RemoteThreshold = 7

	// unknownKindScore applies to kinds outside the declared set.
	unknownKindScore = 3

	ambiguityBonus = 2
	reasoningBonus = 3
	toolBonus      = 1
	retryPenalty   = 2
	toolBonusAbove = 3
)

// contextTiers are checked in order; the first matching tier wins.
var contextTiers = []struct {
	minRunes int
	bonus    int
}{
	{10000, 3},
	{5000, 2},
	{2000, 1},
}

// DefaultBaseScores is the base score table for every declared kind.
var DefaultBaseScores = map[models.TaskKind]int{
	models.KindClassification:      1,
	models.KindExtraction:          2,
	models.KindPlanning:            4,
	models.KindErrorRecovery:       5,
	models.KindWorkflowCompilation: 7,
	models.KindCodeReview:          8,
	models.KindSecurityAnalysis:    9,
}

// reasoningKinds earn the reasoning bonus.
var reasoningKinds = map[models.TaskKind]bool{
	models.KindPlanning:      true,
	models.KindErrorRecovery: true,
}

// Breakdown records each additive term of a score.
type Breakdown struct {
	Base      int `json:"base"`
	Context   int `json:"context"`
	Ambiguity int `json:"ambiguity"`
	Reasoning int `json:"reasoning"`
	Tools     int `json:"tools"`
	Retry     int `json:"retry"`
}

// Sum adds up the terms.
func (b Breakdown) Sum() int {
	return b.Base + b.Context + b.Ambiguity + b.Reasoning + b.Tools + b.Retry
}

// Score is the analyzer's result for one task. It is derived on every call
// and never cached.
type Score struct {
	Total       int                   `json:"total"`
	Breakdown   Breakdown             `json:"breakdown"`
	Recommended models.Recommendation `json:"recommended"`
}

// Analyzer computes complexity scores. It is immutable after construction
// and safe for concurrent use.
type Analyzer struct {
	base      map[models.TaskKind]int
	ambiguity AmbiguityDetector
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithBaseScores replaces the base score table. The table must still cover
// every kind in models.AllTaskKinds.
func WithBaseScores(table map[models.TaskKind]int) Option {
	return func(a *Analyzer) {
		a.base = table
	}
}

// WithAmbiguityDetector swaps the ambiguity heuristic.
func WithAmbiguityDetector(d AmbiguityDetector) Option {
	return func(a *Analyzer) {
		a.ambiguity = d
	}
}

// NewAnalyzer builds an Analyzer and fails if the base table is missing any
// declared task kind.
func NewAnalyzer(opts ...Option) (*Analyzer, error) {
	a := &Analyzer{
		base:      DefaultBaseScores,
		ambiguity: RegexAmbiguityDetector{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.ambiguity == nil {
		return nil, fmt.Errorf("complexity: ambiguity detector is nil")
	}

	table := make(map[models.TaskKind]int, len(a.base))
	for kind, score := range a.base {
		table[kind] = score
	}
	var missing []models.TaskKind
	for _, kind := range models.AllTaskKinds {
		if _, ok := table[kind]; !ok {
			missing = append(missing, kind)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("complexity: base score table missing kinds %v", missing)
	}
	a.base = table
	return a, nil
}

// Analyze scores task. It performs no I/O.
func (a *Analyzer) Analyze(task *models.Task) Score {
	var b Breakdown

	if base, ok := a.base[task.Kind]; ok {
		b.Base = base
	} else {
		b.Base = unknownKindScore
	}

	contextLen := utf8.RuneCountInString(task.Context)
	for _, tier := range contextTiers {
		if contextLen > tier.minRunes {
			b.Context = tier.bonus
			break
		}
	}

	if a.ambiguity.Ambiguous(task.Prompt) {
		b.Ambiguity = ambiguityBonus
	}
	if reasoningKinds[task.Kind] {
		b.Reasoning = reasoningBonus
	}
	if task.ToolCount > toolBonusAbove {
		b.Tools = toolBonus
	}
	if task.IsRetry {
		b.Retry = retryPenalty
	}

	total := b.Sum()
	return Score{
		Total:       total,
		Breakdown:   b,
		Recommended: Recommend(total),
	}
}

// Recommend maps a total score to a backend tier.
func Recommend(total int) models.Recommendation {
	switch {
	case total < LocalThreshold:
		return models.RecommendNone
	case total < RemoteThreshold:
		return models.RecommendLocal
	default:
		return models.RecommendRemote
	}
}
