// Package engine provides agent orchestration functionality.
// This file contains token counting interfaces and implementations.

package engine

import (
	"strings"
)

// Tokenizer provides token counting for text.
// Implementations must be deterministic: a session keeps one tokenizer for its
// whole lifetime so that stored per-message counts stay comparable.
type Tokenizer interface {
	CountTokens(text string) int
}

// EstimateTokens provides a rough token count estimation.
// Uses a simple heuristic: ~4 characters per token for English prose.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))

	// Whitespace-heavy text has fewer tokens per character.
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	estimated := (charCount / 4) + (whitespaceCount / 6)

	// Minimum of 1 token for non-empty text
	if estimated < 1 {
		return 1
	}

	return estimated
}

// DefaultTokenizer uses estimation when no model-specific tokenizer is available.
type DefaultTokenizer struct{}

// CountTokens implements Tokenizer using estimation.
func (DefaultTokenizer) CountTokens(text string) int {
	return EstimateTokens(text)
}

// CountTokensForMessages counts tokens for a slice of messages,
// including ~4 tokens of formatting overhead per message.
func CountTokensForMessages(tokenizer Tokenizer, messages []ChatMessage) int {
	total := 0
	for _, msg := range messages {
		total += tokenizer.CountTokens(string(msg.Role))
		total += tokenizer.CountTokens(msg.Content)
		total += 4
	}
	return total
}

// GetTokenizerForModel returns an appropriate tokenizer for the given model.
// Every model currently shares the estimator.
func GetTokenizerForModel(model string) Tokenizer {
	return DefaultTokenizer{}
}
