// Package server exposes the chat agent over HTTP: a chat websocket, a
// browser-control websocket and a small REST API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/ChamsBouzaiene/finchat/internal/interactions"
	"github.com/ChamsBouzaiene/finchat/internal/links"
	"github.com/ChamsBouzaiene/finchat/internal/providers"
	"github.com/ChamsBouzaiene/finchat/internal/session"
	"github.com/ChamsBouzaiene/finchat/internal/tools"
)

// InteractionLog records finished turns.
type InteractionLog interface {
	Record(ctx context.Context, in interactions.Interaction) (interactions.Interaction, error)
	List(ctx context.Context, sessionID string, limit int) ([]interactions.Interaction, error)
}

// WebIndex indexes ingested page text per session.
type WebIndex interface {
	Add(ctx context.Context, sessionID, url, text string) (int, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// ModelCatalog lists the models a client may pick.
type ModelCatalog interface {
	List() []providers.ModelInfo
}

// Deps are the collaborators a Server needs. Index, Interactions and Links
// are optional.
type Deps struct {
	Agent        *engine.Agent
	Sessions     *session.Store
	Pages        *tools.PageCache
	Hub          *BrowserHub
	Models       ModelCatalog
	Index        WebIndex
	Interactions InteractionLog
	Links        *links.Manager
	Logger       *slog.Logger
}

// Server serves the chat UI protocol and API.
type Server struct {
	agent        *engine.Agent
	sessions     *session.Store
	pages        *tools.PageCache
	hub          *BrowserHub
	models       ModelCatalog
	index        WebIndex
	interactions InteractionLog
	links        *links.Manager
	log          *slog.Logger

	// base is cancelled on Shutdown so running turns stop.
	base     context.Context
	stopAll  context.CancelFunc
	conns    sync.WaitGroup
	srv      *http.Server
	srvMu    sync.Mutex
	shutdown bool
}

// New creates a Server.
func New(d Deps) (*Server, error) {
	if d.Agent == nil || d.Sessions == nil || d.Pages == nil || d.Hub == nil || d.Models == nil {
		return nil, errors.New("server: agent, sessions, pages, hub and models are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Server{
		agent:        d.Agent,
		sessions:     d.Sessions,
		pages:        d.Pages,
		hub:          d.Hub,
		models:       d.Models,
		index:        d.Index,
		interactions: d.Interactions,
		links:        d.Links,
		log:          d.Logger,
		base:         base,
		stopAll:      stop,
	}, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/clear", s.handleClear)
	mux.HandleFunc("POST /api/webtext", s.handleWebText)
	mux.HandleFunc("GET /api/interactions", s.handleListInteractions)

	mux.HandleFunc("GET /api/preferred_urls", s.handleGetPreferredURLs)
	mux.HandleFunc("POST /api/preferred_urls", s.handleAddPreferredURL)
	mux.HandleFunc("PUT /api/preferred_urls", s.handleSyncPreferredURLs)

	mux.HandleFunc("/ws/chat", s.handleChatWebSocket)
	mux.HandleFunc("/ws/browser", s.handleBrowserWebSocket)

	return s.corsMiddleware(mux)
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.srvMu.Lock()
	if s.shutdown {
		s.srvMu.Unlock()
		return http.ErrServerClosed
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.srv
	s.srvMu.Unlock()

	s.log.Info("starting web server", "addr", addr)
	return srv.ListenAndServe()
}

// Shutdown stops accepting requests, cancels running turns and waits for
// websocket connections to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	s.shutdown = true
	srv := s.srv
	s.srvMu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.stopAll()
	s.hub.CloseAll()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections: %w", ctx.Err())
	}
	return err
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The browser extension calls from its own origin.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("api error", "error", err)
	} else {
		s.log.Debug("api request rejected", "status", status, "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}

// clearSession empties a session. With preserveWeb only the conversation
// goes; otherwise the session and its indexed web content are dropped.
func (s *Server) clearSession(ctx context.Context, sessionID string, preserveWeb bool) error {
	if preserveWeb {
		s.sessions.ClearConversationOnly(sessionID)
		return nil
	}
	s.sessions.Reset(sessionID)
	if s.index != nil {
		if err := s.index.DeleteSession(ctx, sessionID); err != nil {
			return fmt.Errorf("drop indexed web content: %w", err)
		}
	}
	return nil
}
