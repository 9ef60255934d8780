package engine

import (
	"context"
)

type Hooks []Hook

func (hs Hooks) OnRoundStart(ctx context.Context, st *State) {
	for _, h := range hs {
		h.OnRoundStart(ctx, st)
	}
}
func (hs Hooks) OnBeforeLLM(ctx context.Context, st *State, m []ChatMessage) {
	for _, h := range hs {
		h.OnBeforeLLM(ctx, st, m)
	}
}
func (hs Hooks) OnAfterLLM(ctx context.Context, st *State, text string, u Usage) {
	for _, h := range hs {
		h.OnAfterLLM(ctx, st, text, u)
	}
}
func (hs Hooks) OnParseError(ctx context.Context, st *State, e *ParseError) {
	for _, h := range hs {
		h.OnParseError(ctx, st, e)
	}
}
func (hs Hooks) OnToolCall(ctx context.Context, st *State, c ToolCall) {
	for _, h := range hs {
		h.OnToolCall(ctx, st, c)
	}
}
func (hs Hooks) OnToolResult(ctx context.Context, st *State, c ToolCall, r ToolResult) {
	for _, h := range hs {
		h.OnToolResult(ctx, st, c, r)
	}
}
func (hs Hooks) OnStreamStart(ctx context.Context, st *State) {
	for _, h := range hs {
		h.OnStreamStart(ctx, st)
	}
}
func (hs Hooks) OnStreamDelta(ctx context.Context, st *State, d string) {
	for _, h := range hs {
		h.OnStreamDelta(ctx, st, d)
	}
}
func (hs Hooks) OnStreamEnd(ctx context.Context, st *State) {
	for _, h := range hs {
		h.OnStreamEnd(ctx, st)
	}
}
func (hs Hooks) OnDone(ctx context.Context, st *State) {
	for _, h := range hs {
		h.OnDone(ctx, st)
	}
}
