// Package mention extracts @-mention tokens from free-form message text.
package mention

import "regexp"

// mentionRegex matches an @ followed by one or more characters from the
// mention charset. Matching is greedy, so "@agent:vision:main" captures
// the whole qualified key.
var mentionRegex = regexp.MustCompile(`@([A-Za-z0-9:_./-]+)`)

// Parse returns the alias tokens mentioned in text, with the leading @
// stripped, deduplicated in first-seen order. The raw text is never
// modified; callers store it verbatim alongside the parsed tokens.
func Parse(text string) []string {
	matches := mentionRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		token := m[1]
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens
}
