// Package query turns natural-language "where is X" questions into the
// tokens and prompts the search pipeline sends upstream.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// stopWordPattern matches question filler as whole words only, so
	// "is" is removed from "where is" but not from "wrist".
	stopWordPattern = regexp.MustCompile(`\b(where|are|is|my|the|a|an|did|i|put|leave|place)\b`)

	punctuationPattern = regexp.MustCompile(`[?!.]+`)
)

// ExtractObjectToken returns the canonical object token of a query.
//
//	"Where are my keys?"        -> "keys"
//	"Where did I put the remote" -> "remote"
//
// When nothing survives stop-word removal the trimmed input is returned, so
// a non-empty query never yields an empty token.
func ExtractObjectToken(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	normalized = stopWordPattern.ReplaceAllString(normalized, "")
	normalized = punctuationPattern.ReplaceAllString(normalized, "")

	if words := strings.Fields(normalized); len(words) > 0 {
		return words[0]
	}

	return strings.TrimSpace(query)
}

// BuildEnhancedQuery joins an object's name and alias text into the string
// sent to video search.
func BuildEnhancedQuery(name, aliasText string) string {
	if aliasText == "" {
		return name
	}
	return name + " " + aliasText
}

// BuildLocationPrompt returns the instruction sent with the location
// description call.
func BuildLocationPrompt(name string) string {
	return fmt.Sprintf("Describe the exact location where you see the %s in this video. "+
		"Be specific about the surface, room, and nearby objects. Answer in one short sentence.", name)
}

// GenericSuggestions are offered when nothing is tracked yet.
var GenericSuggestions = []string{
	"Where are my keys?",
	"Find my wallet",
	"Where did I put my phone?",
	"I can't find my glasses",
}

// Suggestions builds example queries for the given object names, at most
// limit of them. An empty name list yields the generic suggestions.
func Suggestions(names []string, limit int) []string {
	suggestions := make([]string, 0, len(names)*3)
	for _, name := range names {
		suggestions = append(suggestions,
			fmt.Sprintf("Where are my %s?", name),
			fmt.Sprintf("Find my %s", name),
			fmt.Sprintf("I can't find my %s", name),
		)
	}

	if len(suggestions) == 0 {
		suggestions = append(suggestions, GenericSuggestions...)
	}

	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}
