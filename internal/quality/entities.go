package quality

import "regexp"

// EntitySet is an unordered, deduplicated set of entity strings.
type EntitySet map[string]struct{}

// EntityExtractor pulls comparable entities out of free text.
type EntityExtractor interface {
	Extract(text string) EntitySet
}

var (
	urlPattern         = regexp.MustCompile(`https?://\S+`)
	capitalizedPattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]+\b`)
)

// RegexEntityExtractor treats URLs and capitalized words as entities.
type RegexEntityExtractor struct{}

// Extract implements EntityExtractor.
func (RegexEntityExtractor) Extract(text string) EntitySet {
	set := make(EntitySet)
	for _, m := range urlPattern.FindAllString(text, -1) {
		set[m] = struct{}{}
	}
	for _, m := range capitalizedPattern.FindAllString(text, -1) {
		set[m] = struct{}{}
	}
	return set
}
