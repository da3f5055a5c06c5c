package httpapi

import (
	"net/http"

	"github.com/nextlevelbuilder/agentgateway/internal/apierr"
	"github.com/nextlevelbuilder/agentgateway/internal/envstore"
)

// EnvHandler exposes CRUD for the in-memory env var store.
type EnvHandler struct {
	store *envstore.Store
}

// NewEnvHandler wraps store for the sibling HTTP surface.
func NewEnvHandler(store *envstore.Store) *EnvHandler {
	return &EnvHandler{store: store}
}

// RegisterRoutes registers env var routes on mux.
func (h *EnvHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/env", h.handleList)
	mux.HandleFunc("PUT /api/env/{key}", h.handleSet)
	mux.HandleFunc("DELETE /api/env/{key}", h.handleDelete)
}

func (h *EnvHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"vars": h.store.List()})
}

type setEnvRequest struct {
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

func (h *EnvHandler) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setEnvRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := h.store.Set(r.PathValue("key"), req.Value, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *EnvHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.store.Delete(r.PathValue("key")) {
		writeError(w, apierr.New(apierr.NotFound, "env key not found: %s", r.PathValue("key")))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
