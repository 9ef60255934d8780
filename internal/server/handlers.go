package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ChamsBouzaiene/finchat/internal/engine/protocol"
)

// maxBodyBytes bounds REST request bodies; page text dominates.
const maxBodyBytes = 4 << 20

var errLinksDisabled = errors.New("preferred links are not configured")

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return false
	}
	return true
}

func sessionOrDefault(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return protocol.DefaultSessionID
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"models":  s.models.List(),
		"default": s.agent.Config().DefaultModel,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := sessionOrDefault(r.URL.Query().Get("session_id"))
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"session_id": id,
		"stats":      s.sessions.Stats(id),
	})
}

type clearRequest struct {
	SessionID   string `json:"session_id"`
	PreserveWeb bool   `json:"preserve_web"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	id := sessionOrDefault(req.SessionID)
	if err := s.clearSession(r.Context(), id, req.PreserveWeb); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("session cleared", "session", id, "preserve_web", req.PreserveWeb)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"resp":  "Message list cleared successfully",
		"stats": s.sessions.Stats(id),
	})
}

type webTextRequest struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Text      string `json:"text"`
}

func (s *Server) handleWebText(w http.ResponseWriter, r *http.Request) {
	var req webTextRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("no text provided"))
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("no url provided"))
		return
	}
	id := sessionOrDefault(req.SessionID)

	if err := s.sessions.AddWebContent(id, req.URL, req.Text); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	passages := 0
	if s.index != nil {
		n, err := s.index.Add(r.Context(), id, req.URL, req.Text)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err)
			return
		}
		passages = n
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"resp":     "Text added successfully as user message",
		"passages": passages,
		"stats":    s.sessions.Stats(id),
	})
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	if s.interactions == nil {
		s.jsonResponse(w, http.StatusOK, map[string]any{"interactions": []any{}})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	rows, err := s.interactions.List(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"interactions": rows})
}

func (s *Server) handleGetPreferredURLs(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		s.errorResponse(w, http.StatusNotFound, errLinksDisabled)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"urls": s.links.Links()})
}

func (s *Server) handleAddPreferredURL(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		s.errorResponse(w, http.StatusNotFound, errLinksDisabled)
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"status": "failed"})
		return
	}
	added, err := s.links.Add(req.URL)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	status := "success"
	if !added {
		status = "exists"
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleSyncPreferredURLs(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		s.errorResponse(w, http.StatusNotFound, errLinksDisabled)
		return
	}
	var req struct {
		URLs []string `json:"urls"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.links.Sync(req.URLs); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"status": "success", "urls": s.links.Links()})
}
