// engine/hooks.go
package engine

import (
	"context"
)

// Hook observes a turn. Protocol emission and logging are both hooks.
// OnDone is called exactly once per turn, after st.Outcome is set.
type Hook interface {
	OnRoundStart(ctx context.Context, st *State)
	OnBeforeLLM(ctx context.Context, st *State, messages []ChatMessage)
	OnAfterLLM(ctx context.Context, st *State, text string, usage Usage)
	OnParseError(ctx context.Context, st *State, err *ParseError)
	OnToolCall(ctx context.Context, st *State, call ToolCall)
	OnToolResult(ctx context.Context, st *State, call ToolCall, result ToolResult)
	OnStreamStart(ctx context.Context, st *State)
	OnStreamDelta(ctx context.Context, st *State, delta string)
	OnStreamEnd(ctx context.Context, st *State)
	OnDone(ctx context.Context, st *State)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnRoundStart(context.Context, *State)                       {}
func (NopHook) OnBeforeLLM(context.Context, *State, []ChatMessage)         {}
func (NopHook) OnAfterLLM(context.Context, *State, string, Usage)          {}
func (NopHook) OnParseError(context.Context, *State, *ParseError)          {}
func (NopHook) OnToolCall(context.Context, *State, ToolCall)               {}
func (NopHook) OnToolResult(context.Context, *State, ToolCall, ToolResult) {}
func (NopHook) OnStreamStart(context.Context, *State)                      {}
func (NopHook) OnStreamDelta(context.Context, *State, string)              {}
func (NopHook) OnStreamEnd(context.Context, *State)                        {}
func (NopHook) OnDone(context.Context, *State)                             {}
