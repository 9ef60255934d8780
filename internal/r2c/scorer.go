package r2c

import (
	"math"
	"strings"
)

const (
	lengthWeight  = 0.2
	keywordWeight = 0.4
	recencyWeight = 0.2
	patternBonus  = 0.1
	keywordNorm   = 5.0
)

type keywordTier struct {
	weight float64
	words  []string
}

// Keywords are matched as lowercase substrings and each counts once.
var keywordTiers = []keywordTier{
	{1.0, []string{"price", "earnings", "revenue", "profit", "loss", "margin",
		"ratio", "dividend", "yield", "market", "stock", "bond",
		"inflation", "gdp", "fed", "rate", "growth"}},
	{0.6, []string{"company", "business", "industry", "sector", "share",
		"invest", "trade", "capital", "asset", "debt", "equity"}},
	{0.3, []string{"report", "analysis", "forecast", "trend", "data", "information"}},
}

var answerMarkers = []string{"answer:", "response:", "result:"}

// Score rates how important a span of conversation text is, in [0,1].
// position is the span's zero-based index among total spans; later spans
// score higher. The same formula is used for chunks and for sentences.
func Score(text string, position, total int) float64 {
	if total < 1 {
		total = 1
	}
	if position < 0 {
		position = 0
	}

	score := 0.0

	// Shorter spans score higher; an empty span gets the full length term.
	words := len(strings.Fields(text))
	score += lengthWeight / (1 + math.Log(1+float64(words)))

	lower := strings.ToLower(text)
	score += keywordWeight * math.Min(keywordScore(lower)/keywordNorm, 1)

	score += recencyWeight * float64(position+1) / float64(total)

	if strings.Contains(text, "?") {
		score += patternBonus
	}
	for _, m := range answerMarkers {
		if strings.Contains(lower, m) {
			score += patternBonus
			break
		}
	}

	return math.Max(0, math.Min(score, 1))
}

func keywordScore(lower string) float64 {
	sum := 0.0
	for _, tier := range keywordTiers {
		for _, w := range tier.words {
			if strings.Contains(lower, w) {
				sum += tier.weight
			}
		}
	}
	return sum
}
