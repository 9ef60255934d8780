// engine/hook_logger.go
package engine

import (
	"context"
	"log/slog"
)

// LoggerHook writes a structured log line for each notable turn event.
type LoggerHook struct{ L *slog.Logger }

func (h LoggerHook) logger() *slog.Logger {
	if h.L == nil {
		return slog.Default()
	}
	return h.L
}

func (h LoggerHook) OnRoundStart(_ context.Context, st *State) {
	h.logger().Debug("round start", "session", st.SessionID, "round", st.Round+1, "max_rounds", st.MaxRounds)
}
func (h LoggerHook) OnBeforeLLM(_ context.Context, st *State, msgs []ChatMessage) {
	tokens := CountTokensForMessages(GetTokenizerForModel(st.Model), msgs)
	h.logger().Info("calling LLM", "session", st.SessionID, "model", st.Model, "messages", len(msgs), "tokens", tokens)
}
func (h LoggerHook) OnAfterLLM(_ context.Context, st *State, text string, u Usage) {
	h.logger().Debug("LLM response buffered", "session", st.SessionID, "chars", len(text), "prompt_tokens", u.Prompt, "completion_tokens", u.Completion)
}
func (h LoggerHook) OnParseError(_ context.Context, st *State, err *ParseError) {
	h.logger().Warn("dropping tool call block", "session", st.SessionID, "error", err)
}
func (h LoggerHook) OnToolCall(_ context.Context, st *State, c ToolCall) {
	h.logger().Info("executing tool", "session", st.SessionID, "tool", c.Name, "params", c.Params)
}
func (h LoggerHook) OnToolResult(_ context.Context, st *State, c ToolCall, r ToolResult) {
	if !r.Success {
		h.logger().Warn("tool failed", "session", st.SessionID, "tool", c.Name, "error", r.Error)
		return
	}
	h.logger().Info("tool executed", "session", st.SessionID, "tool", c.Name)
}
func (h LoggerHook) OnStreamStart(context.Context, *State)         {}
func (h LoggerHook) OnStreamDelta(context.Context, *State, string) {}
func (h LoggerHook) OnStreamEnd(context.Context, *State)           {}
func (h LoggerHook) OnDone(_ context.Context, st *State) {
	if st.Err != nil {
		h.logger().Error("turn failed", "session", st.SessionID, "rounds", st.Round, "error", st.Err)
		return
	}
	h.logger().Info("agent loop completed",
		"session", st.SessionID,
		"outcome", st.Outcome,
		"rounds", st.Round,
		"tool_calls", st.ToolCalls,
		"tokens", st.Stats.TokenCount,
	)
}
