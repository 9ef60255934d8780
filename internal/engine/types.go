package engine

import (
	"context"
	"fmt"
	"time"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is the provider-agnostic message we pass around.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Validate checks if the ChatMessage is valid.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	return nil
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// LLMClient abstracts a streaming chat-completion provider.
//
// The event channel carries text deltas and a trailing usage event. The error
// channel receives at most one value: nil on normal completion, or the
// provider error. Both channels are closed when the stream ends.
type LLMClient interface {
	Stream(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (<-chan StreamEvent, <-chan error)
}

// ChatOptions keeps knobs forwarded to the SDK.
type ChatOptions struct {
	Temperature     float32
	MaxOutputTokens int
}

// StreamEvent represents a streaming event from the LLM.
type StreamEvent struct {
	Type  string // "text_delta" | "usage"
	Text  string // for text_delta
	Usage Usage  // for usage
}

// CompressionEvent records one run of the context compressor.
type CompressionEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	OriginalTokens   int       `json:"original_tokens"`
	CompressedTokens int       `json:"compressed_tokens"`
	ChunksCompressed int       `json:"chunks_compressed"`
}

// SessionStats is the observable summary of one conversation.
type SessionStats struct {
	MessageCount       int                `json:"message_count"`
	TokenCount         int                `json:"token_count"`
	Compressed         bool               `json:"compressed"`
	CompressionCount   int                `json:"compression_count"`
	CompressionHistory []CompressionEvent `json:"compression_history"`
}

// ConversationStore is the slice of the session store the agent loop needs.
type ConversationStore interface {
	AddMessage(sessionID string, role MessageRole, content string) error
	Context(sessionID string) []ChatMessage
	Stats(sessionID string) SessionStats
}
