package session

import (
	"sync"
	"time"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
)

// Message is one stored conversation message with its token count.
type Message struct {
	Role      engine.MessageRole `json:"role"`
	Content   string             `json:"content"` // includes the role header
	Tokens    int                `json:"tokens"`
	CreatedAt time.Time          `json:"created_at"`
}

// Session is the state of one conversation.
// TokenCount always equals the sum of message tokens plus the tokens of
// CompressedContext.
type Session struct {
	mu sync.Mutex

	ID                string
	Title             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Messages          []Message
	CompressedContext string
	Compressed        bool // set once compression has produced a context
	TokenCount        int
	CompressionLog    []engine.CompressionEvent
}

// SessionMeta is a lightweight representation for listing.
type SessionMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	TokenCount   int       `json:"token_count"`
	Compressed   bool      `json:"compressed"`
}
