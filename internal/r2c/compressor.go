// Package r2c implements two-level (chunk, then sentence) context
// compression for long conversations.
package r2c

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
)

const epsilon = 1e-6

// Config holds the compression parameters.
type Config struct {
	// Ratio is the fraction of tokens to remove, in (0,1].
	Ratio float64
	// Rho is the fraction of the removal budget spent dropping whole chunks.
	Rho float64
	// Gamma skews the sentence budget toward less important chunks.
	Gamma float64
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{Ratio: 0.5, Rho: 0.5, Gamma: 1.0}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.Ratio <= 0 || c.Ratio > 1 {
		return fmt.Errorf("compression ratio must be in (0,1], got %v", c.Ratio)
	}
	if c.Rho < 0 || c.Rho > 1 {
		return fmt.Errorf("rho must be in [0,1], got %v", c.Rho)
	}
	if c.Gamma < 0 {
		return fmt.Errorf("gamma must be >= 0, got %v", c.Gamma)
	}
	return nil
}

// Chunk is a maximal run of consecutive messages sharing a role.
type Chunk struct {
	Role       engine.MessageRole
	Content    string
	Messages   []engine.ChatMessage
	Tokens     int
	Importance float64
}

// BuildChunks groups consecutive same-role messages, joining their content
// with a single space.
func BuildChunks(msgs []engine.ChatMessage, tok engine.Tokenizer) []Chunk {
	var chunks []Chunk
	for _, m := range msgs {
		if n := len(chunks); n > 0 && chunks[n-1].Role == m.Role {
			chunks[n-1].Messages = append(chunks[n-1].Messages, m)
			continue
		}
		chunks = append(chunks, Chunk{Role: m.Role, Messages: []engine.ChatMessage{m}})
	}
	for i := range chunks {
		parts := make([]string, len(chunks[i].Messages))
		for j, m := range chunks[i].Messages {
			parts[j] = m.Content
		}
		chunks[i].Content = strings.Join(parts, " ")
		chunks[i].Tokens = tok.CountTokens(chunks[i].Content)
	}
	return chunks
}

// Result describes one compression run.
type Result struct {
	Context        string
	Chunks         int // chunks considered
	ChunksRemoved  int // chunks dropped by the chunk pass
	OriginalTokens int // tokens across all chunks before compression
	Target         int // tokens the run aimed to remove
	Tokens         int // tokens of Context
}

// Compressor runs the two-level compression over a message run.
type Compressor struct {
	cfg Config
	tok engine.Tokenizer
}

// New returns a Compressor. cfg must already be valid.
func New(cfg Config, tok engine.Tokenizer) *Compressor {
	if tok == nil {
		tok = engine.DefaultTokenizer{}
	}
	return &Compressor{cfg: cfg, tok: tok}
}

// Compress condenses msgs into a single context string. The caller decides
// which messages are eligible; every message passed in is compressed.
// It reports false when there is nothing to compress.
func (c *Compressor) Compress(msgs []engine.ChatMessage) (Result, bool) {
	chunks := BuildChunks(msgs, c.tok)
	if len(chunks) == 0 {
		return Result{}, false
	}

	total := 0
	for i := range chunks {
		total += chunks[i].Tokens
		chunks[i].Importance = Score(chunks[i].Content, i, len(chunks))
	}
	target := int(float64(total) * c.cfg.Ratio)

	byImportance := rankDescending(len(chunks), func(i int) float64 { return chunks[i].Importance })

	// Chunk pass: drop whole chunks from the least important end. The last
	// chunk dropped may overshoot the budget.
	chunkBudget := int(c.cfg.Rho * float64(target))
	removed := 0
	keep := len(chunks)
	for keep > 1 && removed < chunkBudget {
		removed += chunks[byImportance[keep-1]].Tokens
		keep--
	}

	retained := append([]int(nil), byImportance[:keep]...)
	sort.Ints(retained)

	texts := make([]string, 0, len(retained))
	sentBudget := target - removed
	if sentBudget > 0 {
		sumInv := 0.0
		for _, idx := range retained {
			sumInv += 1 / (chunks[idx].Importance + epsilon)
		}
		for _, idx := range retained {
			inv := 1 / (chunks[idx].Importance + epsilon)
			// Round up so every surviving chunk gives up at least one sentence.
			share := int(math.Ceil(math.Pow(inv/sumInv, c.cfg.Gamma) * float64(sentBudget)))
			texts = append(texts, c.trimSentences(chunks[idx].Content, share))
		}
	} else {
		for _, idx := range retained {
			texts = append(texts, chunks[idx].Content)
		}
	}

	nonEmpty := texts[:0]
	for _, t := range texts {
		if t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	out := strings.Join(nonEmpty, "\n\n")

	return Result{
		Context:        out,
		Chunks:         len(chunks),
		ChunksRemoved:  len(chunks) - keep,
		OriginalTokens: total,
		Target:         target,
		Tokens:         c.tok.CountTokens(out),
	}, true
}

// trimSentences drops the least important sentences of text until at least
// budget tokens are gone. Survivors keep their original order.
func (c *Compressor) trimSentences(text string, budget int) string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return text
	}
	if budget <= 0 {
		return strings.Join(sentences, " ")
	}

	scores := make([]float64, len(sentences))
	for i, s := range sentences {
		scores[i] = Score(s, i, len(sentences))
	}
	byImportance := rankDescending(len(sentences), func(i int) float64 { return scores[i] })

	removed := 0
	keep := len(sentences)
	for keep > 0 && removed < budget {
		removed += c.tok.CountTokens(sentences[byImportance[keep-1]])
		keep--
	}

	kept := make(map[int]bool, keep)
	for _, idx := range byImportance[:keep] {
		kept[idx] = true
	}
	out := make([]string, 0, keep)
	for i, s := range sentences {
		if kept[i] {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

// rankDescending returns indices 0..n-1 ordered by score, highest first.
// Ties keep index order.
func rankDescending(n int, score func(int) float64) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return score(idx[a]) > score(idx[b]) })
	return idx
}
