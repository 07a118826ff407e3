package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/screening-engine/internal/models"
	"github.com/terra-clan/screening-engine/internal/sessions"
)

var errResultPending = errors.New("result pending")

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Sessions.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": list,
		"total":    len(list),
		"pending":  s.deps.Sessions.Pending(),
	})
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "user id must be an integer")
		return 0, false
	}
	return userID, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	session, ok := s.deps.Sessions.Get(userID)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// handleDeleteSession expires a session on operator request. Sessions holding
// a result that is not yet persisted are kept.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	err := s.deps.Sessions.Mutate(r.Context(), userID, func(session *models.Session) error {
		if session.HasPending() {
			return errResultPending
		}
		return sessions.Drop
	})
	switch {
	case errors.Is(err, sessions.ErrNoSession):
		respondError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	case errors.Is(err, errResultPending):
		respondError(w, http.StatusConflict, "result_pending", "session holds a result that is not yet saved")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to remove session")
		return
	}

	slog.Info("session removed by operator", "user_id", userID, "client", ClientFromContext(r.Context()).Name)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"removed": true,
	})
}
