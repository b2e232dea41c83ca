// Package pii detects and redacts personally identifiable information from
// text before it is persisted. Conversation summaries coming back from the
// AI provider can echo phone numbers, emails, or addresses visible in the
// uploaded screenshot; nothing of that kind may reach the database.
package pii

import "regexp"

// Placeholder replaces every detected PII span.
const Placeholder = "[REDACTED]"

// patterns maps a PII type name to its detection pattern. Order matters:
// credit cards must be checked before phone numbers, otherwise a 16-digit
// card number is partially consumed by the looser phone pattern.
var patterns = []struct {
	Type string
	Re   *regexp.Regexp
}{
	{"creditCard", regexp.MustCompile(`\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}`)},
	{"ssn", regexp.MustCompile(`\d{3}[-\s]\d{2}[-\s]\d{4}`)},
	{"phone", regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{"address", regexp.MustCompile(`(?i)\d+\s+[\w\s]+(?:street|st|avenue|ave|road|rd|boulevard|blvd|drive|dr|lane|ln|court|ct|way|place|pl)\.?(?:\s+(?:apt|apartment|suite|ste|unit|#)\s*\d+)?`)},
}

// Redact replaces all detected PII in text with the placeholder.
func Redact(text string) string {
	redacted := text
	for _, p := range patterns {
		redacted = p.Re.ReplaceAllString(redacted, Placeholder)
	}
	return redacted
}

// Contains reports whether text contains any detectable PII.
func Contains(text string) bool {
	for _, p := range patterns {
		if p.Re.MatchString(text) {
			return true
		}
	}
	return false
}

// DetectTypes returns the PII type names found in text, in detection order.
func DetectTypes(text string) []string {
	var detected []string
	for _, p := range patterns {
		if p.Re.MatchString(text) {
			detected = append(detected, p.Type)
		}
	}
	return detected
}
