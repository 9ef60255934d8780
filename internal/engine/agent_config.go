package engine

import "time"

// DefaultMaxRounds is the number of tool rounds a turn may use before the
// forced summarization round.
const DefaultMaxRounds = 5

// AgentConfig holds configuration for an agent instance.
type AgentConfig struct {
	DefaultModel    string
	MaxRounds       int
	StreamDelay     time.Duration // pause between simulated stream units
	MaxOutputTokens int           // 0 = use the model's catalog value
	Temperature     float32       // 0 = use the model's catalog value
	RAGResults      int           // passages injected when use_rag is set
}

// DefaultAgentConfig returns a default agent configuration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		DefaultModel: "deepseek-chat",
		MaxRounds:    DefaultMaxRounds,
		StreamDelay:  2 * time.Millisecond,
		RAGResults:   3,
	}
}

func (c AgentConfig) withDefaults() AgentConfig {
	d := DefaultAgentConfig()
	if c.DefaultModel == "" {
		c.DefaultModel = d.DefaultModel
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = d.MaxRounds
	}
	if c.StreamDelay < 0 {
		c.StreamDelay = 0
	}
	if c.RAGResults <= 0 {
		c.RAGResults = d.RAGResults
	}
	return c
}
