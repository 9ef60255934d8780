// Package session keeps per-session conversation state in memory, with token
// accounting and automatic compression once a session exceeds its budget.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/ChamsBouzaiene/finchat/internal/r2c"
)

// PersonaPrompt leads every context handed to a model.
const PersonaPrompt = "You are a helpful financial assistant. Always answer questions to the best of your ability."

// WebContentMarker tags messages that carry ingested page text. Such
// messages survive ClearConversationOnly.
const WebContentMarker = "[Web Content from"

const (
	userHeader       = "[USER QUESTION]: "
	assistantHeader  = "[ASSISTANT RESPONSE]: "
	compressedHeader = "[Compressed Context]: "

	// recentWindow is how many raw messages follow a compressed context.
	recentWindow = 5
	// reservedTail messages are never compressed.
	reservedTail = 2
	// minCompressible is the fewest messages compression will act on.
	minCompressible = 3

	titleLen = 60
)

// ErrEmptySessionID is returned for operations without a session id.
var ErrEmptySessionID = errors.New("session id is required")

// FormatWebContent renders ingested page text as a session message.
func FormatWebContent(url, text string) string {
	return fmt.Sprintf("%s %s]: %s", WebContentMarker, url, text)
}

// Options configures a Store.
type Options struct {
	MaxTokens   int
	Compression r2c.Config
	Tokenizer   engine.Tokenizer
	Logger      *slog.Logger
	Now         func() time.Time
}

// DefaultOptions returns the standard budget and compression parameters.
func DefaultOptions() Options {
	return Options{
		MaxTokens:   20000,
		Compression: r2c.DefaultConfig(),
	}
}

// Store holds sessions keyed by id. Sessions are created on first use and
// live for the life of the process unless Reset.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxTokens  int
	tok        engine.Tokenizer
	compressor *r2c.Compressor
	logger     *slog.Logger
	now        func() time.Time
}

// NewStore creates a store. It fails if the budget or compression
// parameters are out of range.
func NewStore(opts Options) (*Store, error) {
	if opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive, got %d", opts.MaxTokens)
	}
	if err := opts.Compression.Validate(); err != nil {
		return nil, err
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = engine.DefaultTokenizer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		sessions:   make(map[string]*Session),
		maxTokens:  opts.MaxTokens,
		tok:        opts.Tokenizer,
		compressor: r2c.New(opts.Compression, opts.Tokenizer),
		logger:     opts.Logger,
		now:        opts.Now,
	}, nil
}

func (s *Store) getOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		now := s.now()
		sess = &Session{ID: id, CreatedAt: now, UpdatedAt: now}
		s.sessions[id] = sess
	}
	return sess
}

func (s *Store) get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// AddMessage appends a message with its role header and compresses the
// session when it goes over budget. Calls on one session are serialized.
func (s *Store) AddMessage(sessionID string, role engine.MessageRole, content string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if err := (engine.ChatMessage{Role: role}).Validate(); err != nil {
		return err
	}

	formatted := content
	switch role {
	case engine.RoleUser:
		formatted = userHeader + content
	case engine.RoleAssistant:
		formatted = assistantHeader + content
	}

	sess := s.getOrCreate(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	now := s.now()
	tokens := s.tok.CountTokens(formatted)
	sess.Messages = append(sess.Messages, Message{Role: role, Content: formatted, Tokens: tokens, CreatedAt: now})
	sess.TokenCount += tokens
	sess.UpdatedAt = now
	if sess.Title == "" && role == engine.RoleUser && !strings.Contains(content, WebContentMarker) {
		sess.Title = titleFrom(content)
	}

	if sess.TokenCount > s.maxTokens {
		s.compress(sess)
	}
	return nil
}

// AddWebContent stores ingested page text so that it survives
// ClearConversationOnly.
func (s *Store) AddWebContent(sessionID, url, text string) error {
	return s.AddMessage(sessionID, engine.RoleUser, FormatWebContent(url, text))
}

// compress replaces everything but the reserved tail with a compressed
// context. sess.mu must be held.
func (s *Store) compress(sess *Session) {
	n := len(sess.Messages)
	if n < minCompressible {
		return
	}

	eligible := sess.Messages[:n-reservedTail]
	msgs := make([]engine.ChatMessage, len(eligible))
	original := 0
	for i, m := range eligible {
		msgs[i] = engine.ChatMessage{Role: m.Role, Content: m.Content}
		original += m.Tokens
	}

	res, ok := s.compressor.Compress(msgs)
	if !ok {
		return
	}
	if res.Tokens >= original {
		s.logger.Warn("compression did not shrink context, keeping messages",
			"session", sess.ID,
			"eligible_tokens", original,
			"compressed_tokens", res.Tokens,
		)
		return
	}

	before := sess.TokenCount
	tail := append([]Message(nil), sess.Messages[n-reservedTail:]...)
	sess.Messages = tail
	sess.CompressedContext = res.Context
	sess.Compressed = true
	sess.TokenCount = res.Tokens
	for _, m := range tail {
		sess.TokenCount += m.Tokens
	}
	sess.CompressionLog = append(sess.CompressionLog, engine.CompressionEvent{
		Timestamp:        s.now(),
		OriginalTokens:   original,
		CompressedTokens: res.Tokens,
		ChunksCompressed: res.Chunks,
	})

	s.logger.Info("compressed session context",
		"session", sess.ID,
		"messages", n,
		"chunks", res.Chunks,
		"chunks_removed", res.ChunksRemoved,
		"tokens_before", before,
		"tokens_after", sess.TokenCount,
	)
}

// Context returns the messages to send to a model: the persona prompt, the
// compressed context when present, then recent raw messages oldest first.
func (s *Store) Context(sessionID string) []engine.ChatMessage {
	return s.ContextWith(sessionID, true)
}

// ContextWith is Context with control over the compressed context. Without
// it, every raw message is returned.
func (s *Store) ContextWith(sessionID string, includeCompressed bool) []engine.ChatMessage {
	out := []engine.ChatMessage{{Role: engine.RoleSystem, Content: PersonaPrompt}}

	sess, ok := s.get(sessionID)
	if !ok {
		return out
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	msgs := sess.Messages
	if includeCompressed && sess.Compressed {
		out = append(out, engine.ChatMessage{Role: engine.RoleSystem, Content: compressedHeader + sess.CompressedContext})
		if len(msgs) > recentWindow {
			msgs = msgs[len(msgs)-recentWindow:]
		}
	}
	for _, m := range msgs {
		out = append(out, engine.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// ClearConversationOnly drops everything except web content messages and
// resets compression state. Unknown sessions are ignored.
func (s *Store) ClearConversationOnly(sessionID string) {
	sess, ok := s.get(sessionID)
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	kept := sess.Messages[:0:0]
	tokens := 0
	for _, m := range sess.Messages {
		if strings.Contains(m.Content, WebContentMarker) {
			kept = append(kept, m)
			tokens += m.Tokens
		}
	}
	sess.Messages = kept
	sess.TokenCount = tokens
	sess.CompressedContext = ""
	sess.Compressed = false
	sess.CompressionLog = nil
	sess.Title = ""
	sess.UpdatedAt = s.now()

	s.logger.Info("cleared conversation", "session", sessionID, "preserved", len(kept))
}

// Reset forgets a session entirely.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Stats returns the observable summary of a session. Unknown sessions
// report zero values.
func (s *Store) Stats(sessionID string) engine.SessionStats {
	sess, ok := s.get(sessionID)
	if !ok {
		return engine.SessionStats{CompressionHistory: []engine.CompressionEvent{}}
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	history := make([]engine.CompressionEvent, len(sess.CompressionLog))
	copy(history, sess.CompressionLog)
	return engine.SessionStats{
		MessageCount:       len(sess.Messages),
		TokenCount:         sess.TokenCount,
		Compressed:         sess.Compressed,
		CompressionCount:   len(sess.CompressionLog),
		CompressionHistory: history,
	}
}

// Messages returns a copy of the raw messages of a session.
func (s *Store) Messages(sessionID string) []Message {
	sess, ok := s.get(sessionID)
	if !ok {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]Message(nil), sess.Messages...)
}

// CompressedContext returns the session's compressed context, if any.
func (s *Store) CompressedContext(sessionID string) (string, bool) {
	sess, ok := s.get(sessionID)
	if !ok {
		return "", false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.CompressedContext, sess.Compressed
}

// List returns all sessions sorted by UpdatedAt (newest first).
func (s *Store) List() []SessionMeta {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	metas := make([]SessionMeta, 0, len(all))
	for _, sess := range all {
		sess.mu.Lock()
		metas = append(metas, SessionMeta{
			ID:           sess.ID,
			Title:        sess.Title,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
			MessageCount: len(sess.Messages),
			TokenCount:   sess.TokenCount,
			Compressed:   sess.Compressed,
		})
		sess.mu.Unlock()
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas
}

// titleFrom derives a listing title from the first question, skipping any
// page context wrapped around it.
func titleFrom(question string) string {
	if i := strings.LastIndex(question, "User Question: "); i >= 0 {
		question = question[i+len("User Question: "):]
	}
	title := strings.Join(strings.Fields(question), " ")
	if r := []rune(title); len(r) > titleLen {
		title = string(r[:titleLen]) + "..."
	}
	return title
}
