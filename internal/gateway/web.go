package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/bowerhall/meshtale/internal/engine"
	"github.com/bowerhall/meshtale/internal/guard"
	"github.com/bowerhall/meshtale/internal/logger"
	"github.com/bowerhall/meshtale/internal/session"
	"github.com/bowerhall/meshtale/internal/story"
)

// The web adventure API runs sessions in the web: namespace, keyed by
// UUID, fully isolated from mesh sessions. Finished or quit sessions
// are removed so their ids read as gone afterwards.

type adventureStartRequest struct {
	Theme     string `json:"theme"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleAdventureStart(w http.ResponseWriter, r *http.Request) {
	var req adventureStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	theme := req.Theme
	if theme == "" {
		theme = story.DefaultTheme
	}
	theme = guard.SanitizeTheme(theme)
	if !story.IsTheme(theme) {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid theme"})
		return
	}

	id := req.SessionID
	if id != "" {
		if _, err := uuid.Parse(id); err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "session_id must be a UUID"})
			return
		}
	} else {
		id = uuid.New().String()
	}

	key := session.WebKey(id)
	reply, err := s.engine.HandleDirect(context.WithoutCancel(r.Context()), key, "web", "!adv "+theme)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeBeat(w, id, key, reply)
}

type adventureChoiceRequest struct {
	SessionID string      `json:"session_id"`
	Choice    json.Number `json:"choice"`
}

func (s *Server) handleAdventureChoice(w http.ResponseWriter, r *http.Request) {
	var req adventureChoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	key, ok := s.webKeyFrom(w, req.SessionID)
	if !ok {
		return
	}

	sess, err := s.engine.Store().Load(key)
	if errors.Is(err, session.ErrNotFound) {
		WriteJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	if err != nil {
		logger.Error("web session load failed", "key", key, "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	n, convErr := strconv.Atoi(req.Choice.String())
	if convErr != nil || n < 1 || n > len(sess.Choices) {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid choice"})
		return
	}

	reply, err := s.engine.HandleDirect(context.WithoutCancel(r.Context()), key, "web", strconv.Itoa(n))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeBeat(w, req.SessionID, key, reply)
}

func (s *Server) handleAdventureStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := s.webKeyFrom(w, r.URL.Query().Get("session_id"))
	if !ok {
		return
	}

	sess, err := s.engine.Store().Load(key)
	if errors.Is(err, session.ErrNotFound) {
		WriteJSON(w, http.StatusOK, map[string]any{"status": "none"})
		return
	}
	if err != nil {
		logger.Error("web session load failed", "key", key, "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":         webStatus(sess.State),
		"theme":          sess.Theme,
		"history_length": len(sess.Context),
		"state":          sess.State,
	})
}

type adventureQuitRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleAdventureQuit(w http.ResponseWriter, r *http.Request) {
	var req adventureQuitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	key, ok := s.webKeyFrom(w, req.SessionID)
	if !ok {
		return
	}

	// Quitting a session that never existed is fine.
	if _, err := s.engine.Store().Load(key); errors.Is(err, session.ErrNotFound) {
		WriteJSON(w, http.StatusOK, map[string]any{"status": "quit"})
		return
	}

	if _, err := s.engine.HandleDirect(context.WithoutCancel(r.Context()), key, "web", "!quit"); err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.engine.Store().Delete(key); err != nil {
		logger.Warn("web session delete failed", "key", key, "error", err)
	}

	WriteJSON(w, http.StatusOK, map[string]any{"status": "quit"})
}

// webKeyFrom validates the caller-supplied session id and maps it into
// the web key namespace. On failure it writes the 400 itself.
func (s *Server) webKeyFrom(w http.ResponseWriter, id string) (string, bool) {
	if id == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "session_id required"})
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "session_id must be a UUID"})
		return "", false
	}

	return session.WebKey(id), true
}

// writeBeat renders the session's latest beat as the structured web
// response. A finished story removes the session record.
func (s *Server) writeBeat(w http.ResponseWriter, id, key string, reply engine.Reply) {
	switch reply.State {
	case session.StateAwaitingChoice, session.StateEnded:
	default:
		// Generation did not land; the accepted state is durable, so a
		// retry of the same request can still succeed.
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "story generation unavailable, try again"})
		return
	}

	sess, err := s.engine.Store().Load(key)
	if err != nil {
		logger.Error("web session reload failed", "key", key, "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	choices := sess.Choices
	if choices == nil {
		choices = []string{}
	}
	resp := map[string]any{
		"session_id": id,
		"story":      lastNarrative(sess),
		"choices":    choices,
		"status":     webStatus(sess.State),
	}

	if sess.State == session.StateEnded {
		if err := s.engine.Store().Delete(key); err != nil {
			logger.Warn("finished web session delete failed", "key", key, "error", err)
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalid):
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, engine.ErrBusy):
		WriteJSON(w, http.StatusTooManyRequests, map[string]any{"error": "session busy, try again"})
	default:
		logger.Error("web adventure request failed", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func webStatus(state string) string {
	switch state {
	case session.StateEnded:
		return "finished"
	case session.StateIdle:
		return "none"
	default:
		return "active"
	}
}

func lastNarrative(sess *session.Session) string {
	for i := len(sess.Context) - 1; i >= 0; i-- {
		if sess.Context[i].Kind == story.EventNarrative {
			return sess.Context[i].Text
		}
	}
	return ""
}
