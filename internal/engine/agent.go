package engine

import (
	"context"
	"fmt"
	"strings"
)

// ResolvedModel is a ready-to-use client for one catalog model.
type ResolvedModel struct {
	Client          LLMClient
	Name            string // provider model name
	MaxOutputTokens int
	Temperature     float32
}

// ModelResolver maps a catalog model id to a provider client.
type ModelResolver interface {
	Resolve(ctx context.Context, modelID string) (ResolvedModel, error)
}

// Passage is one retrieval hit over ingested web content.
type Passage struct {
	URL     string
	Snippet string
	Score   float64
}

// Retriever finds web content relevant to a question within a session.
type Retriever interface {
	Search(ctx context.Context, sessionID, query string, k int) ([]Passage, error)
}

// Turn is one user request handed to the agent.
type Turn struct {
	SessionID string
	Message   string // already wrapped with page context by the caller
	Model     string // catalog id; empty selects the configured default
	UseAgent  bool   // expose the tool catalog and run the multi-round loop
	UseRAG    bool
	Cancel    *CancelToken
	Hooks     Hooks // per-turn observers, appended after the agent's own
}

// Agent runs conversation turns against a session store, a model resolver
// and a tool registry. An Agent is safe for concurrent use by turns on
// different sessions.
type Agent struct {
	models    ModelResolver
	tools     ToolRegistry
	store     ConversationStore
	retriever Retriever
	config    AgentConfig
	hooks     Hooks
}

// Run executes one turn to a terminal outcome and returns its final state.
// OnDone fires exactly once. The returned error mirrors st.Err and is only
// set for the error outcome.
func (a *Agent) Run(ctx context.Context, turn Turn) (*State, error) {
	hooks := make(Hooks, 0, len(a.hooks)+len(turn.Hooks))
	hooks = append(hooks, a.hooks...)
	hooks = append(hooks, turn.Hooks...)

	cancel := turn.Cancel
	if cancel == nil {
		cancel = NewCancelToken()
	}
	modelID := turn.Model
	if modelID == "" {
		modelID = a.config.DefaultModel
	}

	st := &State{
		SessionID: turn.SessionID,
		ModelID:   modelID,
		Question:  turn.Message,
		MaxRounds: a.config.MaxRounds,
		Cancel:    cancel,
	}

	a.run(ctx, st, turn, hooks)
	a.finish(ctx, st, hooks)
	return st, st.Err
}

func (a *Agent) run(ctx context.Context, st *State, turn Turn, hooks Hooks) {
	if st.Cancel.Cancelled() {
		st.Outcome = OutcomeCancelled
		return
	}
	if strings.TrimSpace(turn.Message) == "" {
		st.fail(fmt.Errorf("empty message"))
		return
	}

	if err := a.store.AddMessage(st.SessionID, RoleUser, turn.Message); err != nil {
		st.fail(WrapWithContext(err, st, "persist"))
		return
	}

	st.History = a.store.Context(st.SessionID)
	if turn.UseAgent && len(a.tools) > 0 {
		st.Append(ChatMessage{Role: RoleSystem, Content: BuildToolPrompt(a.tools)})
	}
	if turn.UseRAG && a.retriever != nil {
		if msg, ok := a.ragMessage(ctx, st); ok {
			st.Append(msg)
		}
	}

	model, err := a.models.Resolve(ctx, st.ModelID)
	if err != nil {
		st.fail(err)
		return
	}
	st.Model = model.Name

	opts := ChatOptions{
		Temperature:     model.Temperature,
		MaxOutputTokens: model.MaxOutputTokens,
	}
	if a.config.Temperature > 0 {
		opts.Temperature = a.config.Temperature
	}
	if a.config.MaxOutputTokens > 0 {
		opts.MaxOutputTokens = a.config.MaxOutputTokens
	}

	if !turn.UseAgent {
		a.runPlain(ctx, model.Client, st, hooks, opts)
		return
	}
	a.runRounds(ctx, model.Client, st, hooks, opts)
}

// ragMessage builds the transient system message carrying retrieval hits.
// Retrieval failures only drop the message.
func (a *Agent) ragMessage(ctx context.Context, st *State) (ChatMessage, bool) {
	hits, err := a.retriever.Search(ctx, st.SessionID, st.Question, a.config.RAGResults)
	if err != nil || len(hits) == 0 {
		return ChatMessage{}, false
	}
	var b strings.Builder
	b.WriteString("Relevant web content:")
	for _, h := range hits {
		fmt.Fprintf(&b, "\n- %s: %s", h.URL, h.Snippet)
	}
	return ChatMessage{Role: RoleSystem, Content: b.String()}, true
}

// finish persists the answer, snapshots stats and fires OnDone.
func (a *Agent) finish(ctx context.Context, st *State, hooks Hooks) {
	if !st.Finished() {
		st.Outcome = OutcomeCompleted
	}
	if st.Outcome != OutcomeError && st.Answer != "" {
		if err := a.store.AddMessage(st.SessionID, RoleAssistant, st.Answer); err != nil {
			st.fail(WrapWithContext(err, st, "persist"))
		}
	}
	if st.SessionID != "" {
		st.Stats = a.store.Stats(st.SessionID)
	}
	hooks.OnDone(ctx, st)
}

// Tools returns the agent's tool registry.
func (a *Agent) Tools() ToolRegistry {
	return a.tools
}

// Config returns the effective configuration.
func (a *Agent) Config() AgentConfig {
	return a.config
}
