package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// streamUnitPattern splits a buffered answer into word-sized units for
// simulated streaming. Concatenating the units reproduces the input.
var streamUnitPattern = regexp.MustCompile(`\S+\s*|\s+`)

// streamRound makes one model call over st.History. With live=false the
// text is only buffered; with live=true every delta is also forwarded
// through OnStreamDelta and accumulated into st.Answer.
func streamRound(ctx context.Context, llm LLMClient, st *State, hooks Hooks, opts ChatOptions, live bool) (string, error) {
	hooks.OnBeforeLLM(ctx, st, st.History)

	callCtx, stop := st.Cancel.Context(ctx)
	defer stop()

	evCh, errCh := llm.Stream(callCtx, st.Model, st.History, opts)
	var buf strings.Builder
	var usage Usage

	for evCh != nil || errCh != nil {
		select {
		case ev, ok := <-evCh:
			if !ok {
				evCh = nil
				continue
			}
			if st.Cancel.Cancelled() {
				return buf.String(), ErrCancelled
			}
			switch ev.Type {
			case "text_delta":
				if ev.Text == "" {
					continue
				}
				buf.WriteString(ev.Text)
				if live {
					st.Answer += ev.Text
					hooks.OnStreamDelta(ctx, st, ev.Text)
				}
			case "usage":
				usage = ev.Usage
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}
			if st.Cancel.Cancelled() || ctx.Err() != nil {
				return buf.String(), ErrCancelled
			}
			return buf.String(), WrapWithContext(asProviderError(err), st, "llm_stream")
		}
	}

	if st.Cancel.Cancelled() {
		return buf.String(), ErrCancelled
	}

	st.Totals.Prompt += usage.Prompt
	st.Totals.Completion += usage.Completion
	st.Totals.Total += usage.Total
	hooks.OnAfterLLM(ctx, st, buf.String(), usage)
	return buf.String(), nil
}

// simulateStream delivers an already-buffered answer unit by unit, pausing
// delay between units and checking the cancel token before each one.
func simulateStream(ctx context.Context, st *State, hooks Hooks, text string, delay time.Duration) error {
	for _, unit := range streamUnitPattern.FindAllString(text, -1) {
		if st.Cancel.Cancelled() {
			return ErrCancelled
		}
		st.Answer += unit
		hooks.OnStreamDelta(ctx, st, unit)

		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-st.Cancel.Done():
			timer.Stop()
			return ErrCancelled
		case <-ctx.Done():
			timer.Stop()
			return ErrCancelled
		}
	}
	return nil
}

func asProviderError(err error) error {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return err
	}
	status, retryAfter := ExtractErrorMetadata(err)
	return WrapLLMError(err, status, retryAfter)
}
