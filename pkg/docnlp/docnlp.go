// Package docnlp implements small regex/heuristic text analyses used by the
// Metadata stage. No external dependencies, the way the teacher's own
// text-heuristic package avoided one for a narrower problem.
package docnlp

import "regexp"

// numberPattern matches any run containing a digit: drawing numbers, clause
// references ("§ 4.2"), dimensions ("300mm"), dates, and similar.
var numberPattern = regexp.MustCompile(`[0-9]`)

// HasNumbers reports whether text contains at least one digit.
func HasNumbers(text string) bool {
	return numberPattern.MatchString(text)
}

// complexMarkers flag text with subordinate-clause markers,
// parentheticals, or semicolons — a cheap proxy for "requires more context
// budget to summarize accurately" used to size prompt snippets.
var complexMarkers = []*regexp.Regexp{
	regexp.MustCompile(`;`),
	regexp.MustCompile(`\([^)]*\)`),
	regexp.MustCompile(`(?i)\b(jf\.|medmindre|forudsat at|i henhold til)\b`),
}

const complexityLengthThreshold = 400

// Complexity classifies text as "simple" or "complex" for prompt budgeting:
// long text, or text carrying a subordinate-clause marker, is complex.
func Complexity(text string) string {
	if len(text) > complexityLengthThreshold {
		return "complex"
	}
	for _, m := range complexMarkers {
		if m.MatchString(text) {
			return "complex"
		}
	}
	return "simple"
}
