package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ChamsBouzaiene/finchat/internal/engine/protocol"
	"github.com/ChamsBouzaiene/finchat/internal/tools"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// BrowserHub fans browser commands out to every connected browser-control
// socket and feeds their page reports into the page cache.
type BrowserHub struct {
	pages *tools.PageCache
	log   *slog.Logger

	mu      sync.Mutex
	clients map[*browserClient]struct{}
}

type browserClient struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *browserClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

var _ tools.Actuator = (*BrowserHub)(nil)

// NewBrowserHub creates a hub that records page reports in pages.
func NewBrowserHub(pages *tools.PageCache, log *slog.Logger) *BrowserHub {
	if log == nil {
		log = slog.Default()
	}
	return &BrowserHub{
		pages:   pages,
		log:     log,
		clients: make(map[*browserClient]struct{}),
	}
}

// Send implements tools.Actuator. It fails with tools.ErrNoBrowser when no
// browser is connected.
func (h *BrowserHub) Send(ctx context.Context, cmd tools.Command) error {
	payload, err := protocol.MarshalEvent(protocol.NewBrowserCommandEvent(cmd.Data()))
	if err != nil {
		return fmt.Errorf("marshal browser command: %w", err)
	}

	h.mu.Lock()
	clients := make([]*browserClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if len(clients) == 0 {
		return tools.ErrNoBrowser
	}
	for _, c := range clients {
		select {
		case c.send <- payload:
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.log.Debug("browser command sent", "type", cmd.Type, "clients", len(clients))
	return nil
}

// Connected returns the number of browser sockets.
func (h *BrowserHub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every browser.
func (h *BrowserHub) CloseAll() {
	h.mu.Lock()
	clients := make([]*browserClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *BrowserHub) register(c *browserClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("browser connected", "clients", n)
}

func (h *BrowserHub) unregister(c *browserClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("browser disconnected", "clients", n)
}

// serve runs one browser socket until it closes.
func (h *BrowserHub) serve(ws *websocket.Conn) {
	c := &browserClient{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)
	defer c.close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-c.done:
				return
			case payload := <-c.send:
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
					h.log.Warn("browser write failed", "error", err)
					c.close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("browser read ended", "error", err)
			}
			break
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			h.log.Debug("ignoring browser message", "error", err)
			continue
		}
		if update, ok := cmd.(protocol.PageUpdateCommand); ok {
			h.pages.Update(pageFromUpdate(update))
		}
	}

	c.close()
	wg.Wait()
}

func (s *Server) handleBrowserWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade websocket", "error", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	s.hub.serve(ws)
}

func pageFromUpdate(u protocol.PageUpdateCommand) tools.Page {
	p := tools.Page{
		URL:      u.URL,
		Title:    u.Title,
		Content:  u.Content,
		IsActive: u.IsActive,
	}
	if u.Timestamp > 0 {
		p.Timestamp = time.UnixMilli(u.Timestamp)
	}
	return p
}
