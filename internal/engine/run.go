package engine

import (
	"context"
	"errors"
	"strings"
)

// runRounds executes the tool loop: each round buffers one model response,
// then either streams it as the final answer or executes the tool calls it
// contains and folds their results back into the working history.
//
// When MaxRounds rounds all request tools, one extra round asks the model to
// summarize, streamed live, ending in OutcomeMaxIterations.
func (a *Agent) runRounds(ctx context.Context, llm LLMClient, st *State, hooks Hooks, opts ChatOptions) {
	for st.Round < st.MaxRounds {
		if st.Cancel.Cancelled() {
			st.Outcome = OutcomeCancelled
			return
		}
		hooks.OnRoundStart(ctx, st)

		text, err := streamRound(ctx, llm, st, hooks, opts, false)
		if err != nil {
			st.abort(err)
			return
		}
		st.Round++

		calls, parseErrs := ParseToolCalls(text)
		for _, pe := range parseErrs {
			hooks.OnParseError(ctx, st, pe)
		}

		if len(calls) == 0 {
			hooks.OnStreamStart(ctx, st)
			if err := simulateStream(ctx, st, hooks, text, a.config.StreamDelay); err != nil {
				st.abort(err)
				return
			}
			hooks.OnStreamEnd(ctx, st)
			st.Outcome = OutcomeCompleted
			return
		}

		results, err := a.executeTools(ctx, st, hooks, calls)
		if err != nil {
			st.abort(err)
			return
		}

		st.Append(ChatMessage{Role: RoleAssistant, Content: text})
		st.Append(ChatMessage{Role: RoleUser, Content: strings.Join(results, "\n\n")})
	}

	if st.Cancel.Cancelled() {
		st.Outcome = OutcomeCancelled
		return
	}
	st.Append(ChatMessage{Role: RoleUser, Content: SummarizePrompt(st.Question)})
	hooks.OnRoundStart(ctx, st)
	hooks.OnStreamStart(ctx, st)
	if _, err := streamRound(ctx, llm, st, hooks, opts, true); err != nil {
		st.abort(err)
		return
	}
	hooks.OnStreamEnd(ctx, st)
	st.Outcome = OutcomeMaxIterations
}

// runPlain is the non-agent path: one call, streamed live, no tool catalog.
func (a *Agent) runPlain(ctx context.Context, llm LLMClient, st *State, hooks Hooks, opts ChatOptions) {
	hooks.OnRoundStart(ctx, st)
	hooks.OnStreamStart(ctx, st)
	if _, err := streamRound(ctx, llm, st, hooks, opts, true); err != nil {
		st.abort(err)
		return
	}
	st.Round++
	hooks.OnStreamEnd(ctx, st)
	st.Outcome = OutcomeCompleted
}

// executeTools runs calls sequentially. A failing tool only produces a failed
// ToolResult; the returned error is ErrCancelled or nil.
func (a *Agent) executeTools(ctx context.Context, st *State, hooks Hooks, calls []ToolCall) ([]string, error) {
	toolCtx, stop := st.Cancel.Context(ctx)
	defer stop()

	results := make([]string, 0, len(calls))
	for _, call := range calls {
		if st.Cancel.Cancelled() {
			return nil, ErrCancelled
		}
		hooks.OnToolCall(ctx, st, call)

		res := a.tools.Execute(toolCtx, call)
		st.ToolCalls++

		if st.Cancel.Cancelled() {
			return nil, ErrCancelled
		}
		hooks.OnToolResult(ctx, st, call, res)
		results = append(results, FormatToolResult(call, res))
	}
	return results, nil
}

// abort maps a loop error onto the terminal outcome.
func (s *State) abort(err error) {
	if errors.Is(err, ErrCancelled) {
		s.Outcome = OutcomeCancelled
		return
	}
	s.fail(err)
}
