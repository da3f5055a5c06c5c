package httpapi

import (
	"net/http"

	"github.com/nextlevelbuilder/agentgateway/internal/projects"
)

// ProjectsHandler exposes CRUD for the project registry.
type ProjectsHandler struct {
	registry *projects.Registry
}

// NewProjectsHandler wraps registry for the sibling HTTP surface.
func NewProjectsHandler(registry *projects.Registry) *ProjectsHandler {
	return &ProjectsHandler{registry: registry}
}

// RegisterRoutes registers project routes on mux.
func (h *ProjectsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/projects", h.handleDiscover)
	mux.HandleFunc("POST /api/projects", h.handleAddManual)
	mux.HandleFunc("PUT /api/projects/{alias}", h.handleRename)
	mux.HandleFunc("DELETE /api/projects/{alias}", h.handleDelete)
}

func (h *ProjectsHandler) handleDiscover(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.Discover()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": list})
}

type addProjectRequest struct {
	Path        string `json:"path"`
	DisplayName string `json:"displayName,omitempty"`
}

func (h *ProjectsHandler) handleAddManual(w http.ResponseWriter, r *http.Request) {
	var req addProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.registry.AddManual(req.Path, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type renameProjectRequest struct {
	DisplayName string `json:"displayName"`
}

func (h *ProjectsHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.registry.Rename(r.PathValue("alias"), req.DisplayName); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.PathValue("alias")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
