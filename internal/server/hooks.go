package server

import (
	"context"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/ChamsBouzaiene/finchat/internal/engine/protocol"
)

// protocolHook turns agent progress into chat events. Terminal events are
// sent by the connection after Run returns.
type protocolHook struct {
	engine.NopHook
	emit func(protocol.Event)
}

func newProtocolHook(emit func(protocol.Event)) *protocolHook {
	return &protocolHook{emit: emit}
}

func (h *protocolHook) OnStreamStart(_ context.Context, st *engine.State) {
	h.emit(protocol.NewStreamStartEvent(st.ModelID))
}

func (h *protocolHook) OnStreamDelta(_ context.Context, st *engine.State, delta string) {
	if st.Cancel.Cancelled() {
		return
	}
	h.emit(protocol.NewStreamContentEvent(delta))
}

func (h *protocolHook) OnStreamEnd(_ context.Context, _ *engine.State) {
	h.emit(protocol.NewStreamEndEvent())
}

func (h *protocolHook) OnToolCall(_ context.Context, _ *engine.State, call engine.ToolCall) {
	h.emit(protocol.NewToolCallingEvent(call))
}

func (h *protocolHook) OnToolResult(_ context.Context, _ *engine.State, call engine.ToolCall, res engine.ToolResult) {
	h.emit(protocol.NewToolResultEvent(call, res))
}

// terminalEvent is the single event that ends a turn on the wire.
func terminalEvent(st *engine.State) protocol.Event {
	switch st.Outcome {
	case engine.OutcomeCancelled:
		return protocol.NewGenerationStoppedEvent("Generation stopped by user")
	case engine.OutcomeError:
		msg := "generation failed"
		if st.Err != nil {
			msg = st.Err.Error()
		}
		return protocol.NewErrorEvent(msg)
	default:
		return protocol.NewResponseCompleteEvent(st.ModelID, string(st.Outcome), st.Stats)
	}
}
