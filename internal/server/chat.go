package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/ChamsBouzaiene/finchat/internal/engine/protocol"
	"github.com/ChamsBouzaiene/finchat/internal/interactions"
	"github.com/ChamsBouzaiene/finchat/internal/tools"
)

// pageContextLen caps the page text folded into a question.
const pageContextLen = 2000

// chatConn is one chat socket. It runs at most one turn at a time; all
// outgoing events go through a single writer goroutine.
type chatConn struct {
	s   *Server
	ws  *websocket.Conn
	ctx context.Context
	log *slog.Logger

	out  chan protocol.Event
	done chan struct{}

	mu        sync.Mutex
	sessionID string
	cancel    *engine.CancelToken // non-nil while a turn runs
	turns     sync.WaitGroup
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade websocket", "error", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	c := &chatConn{
		s:         s,
		ws:        ws,
		ctx:       ctx,
		log:       s.log.With("conn", protocol.NewSessionID()[:8]),
		out:       make(chan protocol.Event, sendBufferSize),
		done:      make(chan struct{}),
		sessionID: sessionOrDefault(r.URL.Query().Get("session_id")),
	}
	c.run()
}

func (c *chatConn) run() {
	defer c.ws.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	// Shutdown closes the socket so the reader below unblocks.
	stop := context.AfterFunc(c.ctx, func() { c.ws.Close() })
	defer stop()

	c.log.Info("chat connected", "session", c.session())
	c.readLoop()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel.Cancel()
	}
	c.mu.Unlock()
	c.turns.Wait()
	close(c.done)
	wg.Wait()
	c.log.Info("chat disconnected")
}

func (c *chatConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("chat read ended", "error", err)
			}
			return
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			c.emit(protocol.NewErrorEvent(err.Error()))
			continue
		}
		c.handle(cmd)
	}
}

func (c *chatConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			payload, err := protocol.MarshalEvent(ev)
			if err != nil {
				c.log.Error("marshal event", "type", ev.GetType(), "error", err)
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("chat write failed", "error", err)
				c.ws.Close()
				// Keep draining so emitters never block on a dead socket.
				for {
					select {
					case <-c.done:
						return
					case <-c.out:
					}
				}
			}
		}
	}
}

// emit queues an event in order. It never blocks once the connection is
// finished.
func (c *chatConn) emit(ev protocol.Event) {
	select {
	case c.out <- ev:
	case <-c.done:
	}
}

func (c *chatConn) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *chatConn) handle(cmd protocol.Command) {
	switch cmd := cmd.(type) {
	case protocol.ChatMessageCommand:
		c.startTurn(cmd)

	case protocol.StopGenerationCommand:
		c.mu.Lock()
		tok := c.cancel
		c.mu.Unlock()
		if tok == nil || !tok.Cancel() {
			c.emit(protocol.NewStatusEvent("nothing to stop"))
			return
		}
		c.log.Info("generation stop requested", "session", c.session())

	case protocol.SetSessionCommand:
		c.mu.Lock()
		c.sessionID = cmd.SessionID
		c.mu.Unlock()
		c.emit(protocol.NewSessionSetEvent(cmd.SessionID))

	case protocol.PageUpdateCommand:
		c.s.pages.Update(pageFromUpdate(cmd))

	case protocol.ClearConversationCommand:
		id := c.session()
		if err := c.s.clearSession(c.ctx, id, cmd.PreserveWeb); err != nil {
			c.emit(protocol.NewErrorEvent(err.Error()))
			return
		}
		c.emit(protocol.NewStatusEvent("Conversation cleared"))

	default:
		c.emit(protocol.NewErrorEvent(fmt.Sprintf("unsupported command: %s", cmd.GetType())))
	}
}

func (c *chatConn) startTurn(cmd protocol.ChatMessageCommand) {
	c.mu.Lock()
	if c.cancel != nil {
		c.emit(protocol.NewErrorEvent("generation already in progress"))
		c.mu.Unlock()
		return
	}
	tok := engine.NewCancelToken()
	c.cancel = tok
	sessionID := c.sessionID
	c.turns.Add(1)
	c.mu.Unlock()

	c.emit(protocol.NewStatusEvent("Generating response..."))

	message, pageURL := cmd.Message, ""
	if page, ok := c.s.pages.Active(); ok && page.Content != "" {
		message = withPageContext(page, cmd.Message)
		pageURL = page.URL
		c.log.Debug("using active page context", "title", page.Title)
	}

	go func() {
		defer c.turns.Done()

		st, _ := c.s.agent.Run(c.ctx, engine.Turn{
			SessionID: sessionID,
			Message:   message,
			Model:     cmd.Model(),
			UseAgent:  cmd.UseAgent,
			UseRAG:    cmd.UseRAG,
			Cancel:    tok,
			Hooks:     engine.Hooks{newProtocolHook(c.emit)},
		})

		c.s.recordInteraction(c.ctx, st, cmd, pageURL)

		// The terminal event is queued before the slot frees up, so a
		// following chat_message or stop_generation sees it first.
		c.mu.Lock()
		c.emit(terminalEvent(st))
		c.cancel = nil
		c.mu.Unlock()
	}()
}

// withPageContext prefixes a question with the page the user is looking at.
func withPageContext(p tools.Page, question string) string {
	title := p.Title
	if title == "" {
		title = "Unknown Title"
	}
	content := p.Content
	if r := []rune(content); len(r) > pageContextLen {
		content = string(r[:pageContextLen])
	}
	return fmt.Sprintf("Current Page Information:\nTitle: %s\nURL: %s\nPage Content: %s...\n\nUser Question: %s",
		title, p.URL, content, question)
}

// recordInteraction logs a finished turn. Failures are only logged.
func (s *Server) recordInteraction(ctx context.Context, st *engine.State, cmd protocol.ChatMessageCommand, pageURL string) {
	if s.interactions == nil || st.Outcome == engine.OutcomeError {
		return
	}
	// The connection may already be closing; the record should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.interactions.Record(ctx, interactions.Interaction{
		SessionID: st.SessionID,
		Model:     st.ModelID,
		Button:    cmd.Button,
		URL:       pageURL,
		Question:  cmd.Message,
		Response:  st.Answer,
		Outcome:   string(st.Outcome),
	})
	if err != nil {
		s.log.Warn("failed to record interaction", "session", st.SessionID, "error", err)
	}
}
