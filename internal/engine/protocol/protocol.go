package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/google/uuid"
)

// CommandType enumerates all supported client -> server commands.
type CommandType string

const (
	CommandChatMessage       CommandType = "chat_message"
	CommandStopGeneration    CommandType = "stop_generation"
	CommandSetSession        CommandType = "set_session"
	CommandPageUpdate        CommandType = "page_update"
	CommandClearConversation CommandType = "clear_conversation"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// ChatMessageCommand starts a turn.
type ChatMessageCommand struct {
	Type     CommandType `json:"type"`
	Message  string      `json:"message"`
	Models   []string    `json:"models,omitempty"`
	UseRAG   bool        `json:"use_rag,omitempty"`
	UseAgent bool        `json:"use_agent,omitempty"`
	Button   string      `json:"button,omitempty"`
}

// GetType implements Command.
func (c ChatMessageCommand) GetType() CommandType { return CommandChatMessage }

// Model returns the first requested model, or "" to use the default.
func (c ChatMessageCommand) Model() string {
	for _, m := range c.Models {
		if m != "" {
			return m
		}
	}
	return ""
}

// StopGenerationCommand cancels the running turn.
type StopGenerationCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c StopGenerationCommand) GetType() CommandType { return CommandStopGeneration }

// SetSessionCommand binds later turns on the connection to a session id.
type SetSessionCommand struct {
	Type      CommandType `json:"type"`
	SessionID string      `json:"session_id"`
}

// GetType implements Command.
func (c SetSessionCommand) GetType() CommandType { return CommandSetSession }

// PageUpdateCommand carries the browser's view of one tab.
type PageUpdateCommand struct {
	Type      CommandType `json:"type"`
	URL       string      `json:"url"`
	Title     string      `json:"title,omitempty"`
	Content   string      `json:"content,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"` // unix millis
	IsActive  bool        `json:"is_active,omitempty"`
}

// GetType implements Command.
func (c PageUpdateCommand) GetType() CommandType { return CommandPageUpdate }

// ClearConversationCommand resets the bound session.
type ClearConversationCommand struct {
	Type        CommandType `json:"type"`
	PreserveWeb bool        `json:"preserve_web,omitempty"`
}

// GetType implements Command.
func (c ClearConversationCommand) GetType() CommandType { return CommandClearConversation }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandChatMessage:
		var cmd ChatMessageCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode chat_message: %w", err)
		}
		if cmd.Message == "" {
			return nil, errors.New("message is required")
		}
		return cmd, nil
	case CommandStopGeneration:
		return StopGenerationCommand{Type: CommandStopGeneration}, nil
	case CommandSetSession:
		var cmd SetSessionCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode set_session: %w", err)
		}
		if cmd.SessionID == "" {
			cmd.SessionID = DefaultSessionID
		}
		return cmd, nil
	case CommandPageUpdate:
		var cmd PageUpdateCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode page_update: %w", err)
		}
		if cmd.URL == "" {
			return nil, errors.New("page_update requires url")
		}
		return cmd, nil
	case CommandClearConversation:
		var cmd ClearConversationCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode clear_conversation: %w", err)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}

// DefaultSessionID is used by connections that never send set_session.
const DefaultSessionID = "default_session"

// NewSessionID generates a new opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// EventType enumerates server -> client events.
type EventType string

const (
	EventStreamStart       EventType = "stream_start"
	EventStreamContent     EventType = "stream_content"
	EventStreamEnd         EventType = "stream_end"
	EventToolCalling       EventType = "tool_calling"
	EventToolResult        EventType = "tool_result"
	EventResponseComplete  EventType = "response_complete"
	EventGenerationStopped EventType = "generation_stopped"
	EventError             EventType = "error"
	EventSessionSet        EventType = "session_set"
	EventStatus            EventType = "status"
	EventBrowserCommand    EventType = "browser_command"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into one websocket text frame.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
}

func (eventBase) isEvent() {}

// GetType implements Event.
func (e eventBase) GetType() EventType { return e.Type }

// StreamStartEvent opens a user-visible answer stream.
type StreamStartEvent struct {
	eventBase
	Model string `json:"model"`
}

// NewStreamStartEvent constructs a stream_start event.
func NewStreamStartEvent(model string) StreamStartEvent {
	return StreamStartEvent{eventBase: eventBase{Type: EventStreamStart}, Model: model}
}

// StreamContentEvent carries one incremental piece of answer text.
type StreamContentEvent struct {
	eventBase
	Content string `json:"content"`
}

// NewStreamContentEvent constructs a stream_content event.
func NewStreamContentEvent(content string) StreamContentEvent {
	return StreamContentEvent{eventBase: eventBase{Type: EventStreamContent}, Content: content}
}

// StreamEndEvent closes the answer stream.
type StreamEndEvent struct {
	eventBase
}

// NewStreamEndEvent constructs a stream_end event.
func NewStreamEndEvent() StreamEndEvent {
	return StreamEndEvent{eventBase: eventBase{Type: EventStreamEnd}}
}

// ToolDetails describes one tool invocation for display.
type ToolDetails struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Success    *bool          `json:"success,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ToolEvent is shared by tool_calling and tool_result.
type ToolEvent struct {
	eventBase
	Message     string      `json:"message"`
	ToolDetails ToolDetails `json:"tool_details"`
}

// NewToolCallingEvent constructs a tool_calling event.
func NewToolCallingEvent(call engine.ToolCall) ToolEvent {
	return ToolEvent{
		eventBase: eventBase{Type: EventToolCalling},
		Message:   fmt.Sprintf("Calling tool: %s", call.Name),
		ToolDetails: ToolDetails{
			ToolName:   call.Name,
			Parameters: call.Params,
		},
	}
}

// NewToolResultEvent constructs a tool_result event.
func NewToolResultEvent(call engine.ToolCall, res engine.ToolResult) ToolEvent {
	msg := fmt.Sprintf("Tool %s completed", call.Name)
	if !res.Success {
		msg = fmt.Sprintf("Tool %s failed: %s", call.Name, res.Error)
	}
	success := res.Success
	return ToolEvent{
		eventBase: eventBase{Type: EventToolResult},
		Message:   msg,
		ToolDetails: ToolDetails{
			ToolName:   call.Name,
			Parameters: call.Params,
			Success:    &success,
			Result:     res.Result,
			Error:      res.Error,
		},
	}
}

// ResponseCompleteEvent ends a turn that produced an answer.
type ResponseCompleteEvent struct {
	eventBase
	Model   string              `json:"model"`
	Outcome string              `json:"outcome,omitempty"`
	Stats   engine.SessionStats `json:"stats"`
}

// NewResponseCompleteEvent constructs a response_complete event.
func NewResponseCompleteEvent(model, outcome string, stats engine.SessionStats) ResponseCompleteEvent {
	return ResponseCompleteEvent{
		eventBase: eventBase{Type: EventResponseComplete},
		Model:     model,
		Outcome:   outcome,
		Stats:     stats,
	}
}

// MessageEvent is shared by the events that only carry a message.
type MessageEvent struct {
	eventBase
	Message string `json:"message"`
}

// NewGenerationStoppedEvent constructs a generation_stopped event.
func NewGenerationStoppedEvent(message string) MessageEvent {
	return MessageEvent{eventBase: eventBase{Type: EventGenerationStopped}, Message: message}
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(message string) MessageEvent {
	return MessageEvent{eventBase: eventBase{Type: EventError}, Message: message}
}

// NewStatusEvent constructs a status event.
func NewStatusEvent(message string) MessageEvent {
	return MessageEvent{eventBase: eventBase{Type: EventStatus}, Message: message}
}

// SessionSetEvent acknowledges set_session.
type SessionSetEvent struct {
	eventBase
}

// NewSessionSetEvent constructs a session_set event.
func NewSessionSetEvent(sessionID string) SessionSetEvent {
	return SessionSetEvent{eventBase: eventBase{Type: EventSessionSet, SessionID: sessionID}}
}

// BrowserCommandEvent is sent to browser-control sockets.
type BrowserCommandEvent struct {
	eventBase
	Data map[string]any `json:"data"`
}

// NewBrowserCommandEvent constructs a browser_command event.
func NewBrowserCommandEvent(data map[string]any) BrowserCommandEvent {
	return BrowserCommandEvent{eventBase: eventBase{Type: EventBrowserCommand}, Data: data}
}
