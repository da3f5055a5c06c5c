// Package httpapi implements the sibling HTTP surface the gateway's
// WebSocket protocol assumes is present: CRUD for env vars and
// project aliases, session listing/reading/deletion, and sandboxed
// file read/write. It is a thin adapter over the env store, project
// registry, session log reader, and path sandbox — it adds no new
// core semantics of its own.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/nextlevelbuilder/agentgateway/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.HTTPStatus(apierr.KindOf(err)), map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Wrap(apierr.InvalidArgument, err)
	}
	return nil
}
