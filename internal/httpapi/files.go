package httpapi

import (
	"net/http"
	"os"

	"github.com/nextlevelbuilder/agentgateway/internal/apierr"
	"github.com/nextlevelbuilder/agentgateway/internal/pathsandbox"
	"github.com/nextlevelbuilder/agentgateway/internal/projects"
)

// FilesHandler exposes sandboxed file read/write in either
// project-relative or absolute mode.
type FilesHandler struct {
	registry *projects.Registry
}

// NewFilesHandler wraps registry (used to resolve a project alias's
// real path for project-relative requests) for the sibling HTTP
// surface.
func NewFilesHandler(registry *projects.Registry) *FilesHandler {
	return &FilesHandler{registry: registry}
}

// RegisterRoutes registers file routes on mux.
func (h *FilesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/files", h.handleRead)
	mux.HandleFunc("PUT /api/files", h.handleWrite)
}

// resolve validates a (project, path, mode) triple and returns the
// real on-disk path. mode "relative" treats path as project-relative
// under the alias named by project; mode "absolute" treats path as an
// already-real path and ignores project.
func (h *FilesHandler) resolve(mode, project, path string) (string, error) {
	switch mode {
	case "", "relative":
		if project == "" {
			return "", apierr.New(apierr.InvalidArgument, "project is required in relative mode")
		}
		root := h.registry.ResolveAlias(project)
		return pathsandbox.ResolveProjectRelative(root, path)
	case "absolute":
		return pathsandbox.ResolveAbsolute(path)
	default:
		return "", apierr.New(apierr.InvalidArgument, "unknown mode: %s", mode)
	}
}

func (h *FilesHandler) handleRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	real, err := h.resolve(q.Get("mode"), q.Get("project"), q.Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := os.ReadFile(real)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, apierr.New(apierr.NotFound, "file not found: %s", q.Get("path")))
			return
		}
		writeError(w, apierr.Wrap(apierr.Internal, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": string(data)})
}

type writeFileRequest struct {
	Mode    string `json:"mode"`
	Project string `json:"project"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (h *FilesHandler) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	real, err := h.resolve(req.Mode, req.Project, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := os.WriteFile(real, []byte(req.Content), 0o644); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
