package httpapi

import (
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/agentgateway/internal/sessionlog"
)

// SessionsHandler exposes session listing, message reading, and
// deletion over one project alias's NDJSON logs.
type SessionsHandler struct {
	reader *sessionlog.Reader
}

// NewSessionsHandler wraps reader for the sibling HTTP surface.
func NewSessionsHandler(reader *sessionlog.Reader) *SessionsHandler {
	return &SessionsHandler{reader: reader}
}

// RegisterRoutes registers session routes on mux.
func (h *SessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/projects/{alias}/sessions", h.handleList)
	mux.HandleFunc("GET /api/projects/{alias}/sessions/{sessionId}/messages", h.handleMessages)
	mux.HandleFunc("DELETE /api/projects/{alias}/sessions/{sessionId}", h.handleDelete)
}

func intQueryParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (h *SessionsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := intQueryParam(r, "limit", 20)
	offset := intQueryParam(r, "offset", 0)

	result, err := h.reader.ListSessions(r.PathValue("alias"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SessionsHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	offset := intQueryParam(r, "offset", 0)

	var limit *int
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = &n
		}
	}

	result, err := h.reader.GetMessages(r.PathValue("alias"), r.PathValue("sessionId"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SessionsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.reader.DeleteSession(r.PathValue("alias"), r.PathValue("sessionId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
