package engine

import (
	"fmt"
	"log/slog"
	"time"
)

// AgentBuilder helps construct an Agent with a fluent API.
type AgentBuilder struct {
	config    AgentConfig
	models    ModelResolver
	tools     ToolRegistry
	store     ConversationStore
	retriever Retriever
	hooks     Hooks
	logger    *slog.Logger
}

// NewAgentBuilder creates a new agent builder with default configuration.
func NewAgentBuilder() *AgentBuilder {
	return &AgentBuilder{
		config: DefaultAgentConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *AgentBuilder) WithConfig(cfg AgentConfig) *AgentBuilder {
	b.config = cfg
	return b
}

// WithModels sets the model resolver.
func (b *AgentBuilder) WithModels(models ModelResolver) *AgentBuilder {
	b.models = models
	return b
}

// WithDefaultModel sets the catalog id used when a turn names no model.
func (b *AgentBuilder) WithDefaultModel(id string) *AgentBuilder {
	b.config.DefaultModel = id
	return b
}

// WithMaxRounds sets the number of tool rounds before forced summarization.
func (b *AgentBuilder) WithMaxRounds(n int) *AgentBuilder {
	b.config.MaxRounds = n
	return b
}

// WithStreamDelay sets the pause between simulated stream units.
func (b *AgentBuilder) WithStreamDelay(d time.Duration) *AgentBuilder {
	b.config.StreamDelay = d
	return b
}

// WithToolRegistry sets the tools exposed in agent mode.
func (b *AgentBuilder) WithToolRegistry(reg ToolRegistry) *AgentBuilder {
	b.tools = reg
	return b
}

// WithStore sets the conversation store.
func (b *AgentBuilder) WithStore(store ConversationStore) *AgentBuilder {
	b.store = store
	return b
}

// WithRetriever enables use_rag turns.
func (b *AgentBuilder) WithRetriever(r Retriever) *AgentBuilder {
	b.retriever = r
	return b
}

// WithHooks sets custom hooks.
func (b *AgentBuilder) WithHooks(hooks Hooks) *AgentBuilder {
	b.hooks = hooks
	return b
}

// WithLogger sets the logger used by the default LoggerHook.
func (b *AgentBuilder) WithLogger(l *slog.Logger) *AgentBuilder {
	b.logger = l
	return b
}

// Build constructs the Agent instance.
func (b *AgentBuilder) Build() (*Agent, error) {
	if b.models == nil {
		return nil, fmt.Errorf("model resolver not configured: use WithModels")
	}
	if b.store == nil {
		return nil, fmt.Errorf("conversation store not configured: use WithStore")
	}
	if b.tools == nil {
		b.tools = make(ToolRegistry)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	if b.hooks == nil {
		b.hooks = DefaultHooks(logger)
	}

	cfg := b.config.withDefaults()
	logger.Debug("agent configured",
		"default_model", cfg.DefaultModel,
		"max_rounds", cfg.MaxRounds,
		"tools", b.tools.Names(),
		"catalog_tokens", EstimateTokens(BuildToolPrompt(b.tools)),
	)

	return &Agent{
		models:    b.models,
		tools:     b.tools,
		store:     b.store,
		retriever: b.retriever,
		config:    cfg,
		hooks:     b.hooks,
	}, nil
}
