package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentbridge/agentbridge/internal/bridge/types"
	"github.com/agentbridge/agentbridge/internal/session"
)

// SessionsHandler exposes the session registry for inspection and cleanup.
// Session creation happens implicitly through chat completions; these
// endpoints only observe and delete.
type SessionsHandler struct {
	Registry *session.Registry
}

// sessionList is the envelope for GET /v1/sessions.
type sessionList struct {
	Object string            `json:"object"`
	Data   []session.Summary `json:"data"`
}

// sessionDeleted is the acknowledgement for DELETE /v1/sessions/{id}.
type sessionDeleted struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, sessionList{
		Object: "list",
		Data:   h.Registry.List(),
	}, http.StatusOK)
}

func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s, ok := h.Registry.Get(id)
	if !ok {
		writeJSONError(r.Context(), w, types.NewNotFoundError(fmt.Sprintf("session %q not found", id)))
		return
	}
	writeJSON(r.Context(), w, s, http.StatusOK)
}

func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !h.Registry.Delete(id) {
		writeJSONError(r.Context(), w, types.NewNotFoundError(fmt.Sprintf("session %q not found", id)))
		return
	}
	writeJSON(r.Context(), w, sessionDeleted{
		ID:      id,
		Object:  "session.deleted",
		Deleted: true,
	}, http.StatusOK)
}

func (h *SessionsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, h.Registry.Stats(), http.StatusOK)
}
