package complexity

import "regexp"

// AmbiguityDetector decides whether a prompt is worded ambiguously.
type AmbiguityDetector interface {
	Ambiguous(text string) bool
}

var (
	hedgingWords  = regexp.MustCompile(`(?i)\b(maybe|might|could|should|probably)\b`)
	multiQuestion = regexp.MustCompile(`(?s)\?.*\?`)
	disjunctions  = regexp.MustCompile(`(?i)\b(or|either)\b`)
)

// RegexAmbiguityDetector flags hedging words, more than one question mark,
// and either/or disjunctions. Word matches are whole-word and case-insensitive.
type RegexAmbiguityDetector struct{}

// Ambiguous implements AmbiguityDetector.
func (RegexAmbiguityDetector) Ambiguous(text string) bool {
	return hedgingWords.MatchString(text) ||
		multiQuestion.MatchString(text) ||
		disjunctions.MatchString(text)
}
