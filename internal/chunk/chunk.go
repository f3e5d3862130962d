// Package chunk fits reply text into LoRa frame budgets. Splitting
// respects word boundaries; multi-part replies get "Part i/n: "
// prefixes and travel joined by Separator so the radio gateway can
// fan them out as individual frames.
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMax is the frame character budget.
const DefaultMax = 230

// Separator joins parts inside a single gateway response.
const Separator = "\n---PART---\n"

// Split breaks text into chunks of at most max characters each.
func Split(text string, max int) []string {
	if max <= 0 {
		max = DefaultMax
	}

	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	words := strings.Split(text, " ")
	var raw []string
	current := ""

	for _, word := range words {
		candidate := word
		if current != "" {
			candidate = strings.TrimSpace(current + " " + word)
		}

		if utf8.RuneCountInString(candidate) <= max {
			current = candidate
			continue
		}

		if current != "" {
			raw = append(raw, current)
		}

		// a single word over the budget is force-split
		for utf8.RuneCountInString(word) > max {
			runes := []rune(word)
			raw = append(raw, string(runes[:max]))
			word = string(runes[max:])
		}
		current = word
	}

	if current != "" {
		raw = append(raw, current)
	}

	if len(raw) == 1 {
		return raw
	}

	n := len(raw)
	result := make([]string, 0, n)
	for i, c := range raw {
		prefix := fmt.Sprintf("Part %d/%d: ", i+1, n)

		if utf8.RuneCountInString(prefix+c) <= max {
			result = append(result, prefix+c)
			continue
		}

		keep := max - utf8.RuneCountInString(prefix)
		if keep < 0 {
			keep = 0
		}
		runes := []rune(c)
		result = append(result, prefix+string(runes[:keep]))
	}

	return result
}

// Join packs parts into one response body.
func Join(parts []string) string {
	return strings.Join(parts, Separator)
}

// Truncate cuts text to at most max characters, marking the cut with
// an ellipsis. Text already inside the budget passes through.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}
