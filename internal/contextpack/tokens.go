// Package contextpack assembles the bounded text the planner sends to the
// LLM: the conversation buffer, a per-client context pack, and a knowledge
// base summary. Every piece is cut to a token budget estimated by
// EstimateTokens.
package contextpack

import "strings"

// EstimateTokens approximates a token count as one token per four bytes.
// Truncation behaviour depends on this exact heuristic.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// TruncateLines keeps whole lines from the top while the newline-joined
// text stays within budget tokens.
func TruncateLines(lines []string, budget int) string {
	if budget <= 0 {
		return ""
	}
	size := 0
	n := 0
	for i, line := range lines {
		next := size + len(line)
		if i > 0 {
			next++
		}
		if next/4 > budget {
			break
		}
		size = next
		n++
	}
	return strings.Join(lines[:n], "\n")
}
