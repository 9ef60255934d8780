package providers

import (
	"context"
	"strings"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
)

// streamWriter is the producer half of the engine.LLMClient channel pair.
// finish must be called exactly once; it delivers the terminal error (nil on
// success) and closes both channels.
type streamWriter struct {
	ctx    context.Context
	events chan engine.StreamEvent
	errs   chan error
}

func newStreamWriter(ctx context.Context) *streamWriter {
	return &streamWriter{
		ctx:    ctx,
		events: make(chan engine.StreamEvent, 16),
		errs:   make(chan error, 1),
	}
}

// text forwards a delta. It reports false once ctx is done.
func (w *streamWriter) text(s string) bool {
	if s == "" {
		return true
	}
	return w.send(engine.StreamEvent{Type: "text_delta", Text: s})
}

func (w *streamWriter) usage(u engine.Usage) bool {
	if u.Total == 0 && u.Prompt == 0 && u.Completion == 0 {
		return true
	}
	return w.send(engine.StreamEvent{Type: "usage", Usage: u})
}

func (w *streamWriter) send(ev engine.StreamEvent) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.ctx.Done():
		return false
	}
}

func (w *streamWriter) finish(err error) {
	if err == nil {
		err = w.ctx.Err()
	}
	w.errs <- err
	close(w.events)
	close(w.errs)
}

// providerError classifies an SDK error the way the engine expects.
func providerError(err error) error {
	status, retryAfter := engine.ExtractErrorMetadata(err)
	return engine.WrapLLMError(err, status, retryAfter)
}

// alternate folds a history into strictly alternating user/model turns for
// providers that require it: consecutive messages with the same role are
// joined and a leading assistant message is sent as user text. System
// messages are returned separately, in order.
func alternate(msgs []engine.ChatMessage) (system []string, turns []engine.ChatMessage) {
	for _, m := range msgs {
		if m.Role == engine.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := m.Role
		if len(turns) == 0 && role == engine.RoleAssistant {
			role = engine.RoleUser
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content = strings.TrimRight(turns[n-1].Content, "\n") + "\n\n" + m.Content
			continue
		}
		turns = append(turns, engine.ChatMessage{Role: role, Content: m.Content})
	}
	return system, turns
}
