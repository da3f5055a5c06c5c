package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentgateway/internal/envstore"
	"github.com/nextlevelbuilder/agentgateway/internal/projects"
	"github.com/nextlevelbuilder/agentgateway/internal/sessionlog"
)

func newTestMux(t *testing.T) (*http.ServeMux, string) {
	t.Helper()
	agentRoot := t.TempDir()
	sidecar := filepath.Join(t.TempDir(), "project-config.json")

	mux := http.NewServeMux()
	NewEnvHandler(envstore.New()).RegisterRoutes(mux)
	registry := projects.New(agentRoot, sidecar)
	NewProjectsHandler(registry).RegisterRoutes(mux)
	NewSessionsHandler(sessionlog.New(agentRoot)).RegisterRoutes(mux)
	NewFilesHandler(registry).RegisterRoutes(mux)
	return mux, agentRoot
}

func TestEnvSetListDelete(t *testing.T) {
	mux, _ := newTestMux(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/env/ANTHROPIC_TOKEN", strings.NewReader(`{"value":"abc"}`))
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	listResp, err := srv.Client().Get(srv.URL + "/api/env")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body struct {
		Vars []envstore.Var `json:"vars"`
	}
	json.NewDecoder(listResp.Body).Decode(&body)
	if len(body.Vars) != 1 || body.Vars[0].Value != "***HIDDEN***" {
		t.Fatalf("expected one masked var, got %+v", body.Vars)
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/env/ANTHROPIC_TOKEN", nil)
	resp, _ = srv.Client().Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/env/ANTHROPIC_TOKEN", nil)
	resp, _ = srv.Client().Do(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}
}

func TestProjectsAddRenameDelete(t *testing.T) {
	mux, _ := newTestMux(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	projectDir := t.TempDir()
	addBody, _ := json.Marshal(addProjectRequest{Path: projectDir, DisplayName: "My Project"})
	resp, err := srv.Client().Post(srv.URL+"/api/projects", "application/json", strings.NewReader(string(addBody)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var p projects.Project
	json.NewDecoder(resp.Body).Decode(&p)
	if p.DisplayName != "My Project" {
		t.Fatalf("expected display name to round-trip, got %q", p.DisplayName)
	}

	renameBody, _ := json.Marshal(renameProjectRequest{DisplayName: "Renamed"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/projects/"+p.Alias, strings.NewReader(string(renameBody)))
	resp, _ = srv.Client().Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on rename, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/projects/"+p.Alias, nil)
	resp, _ = srv.Client().Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", resp.StatusCode)
	}
}

func TestFilesReadWriteRelativeMode(t *testing.T) {
	mux, _ := newTestMux(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	projectDir := t.TempDir()
	addBody, _ := json.Marshal(addProjectRequest{Path: projectDir})
	resp, _ := srv.Client().Post(srv.URL+"/api/projects", "application/json", strings.NewReader(string(addBody)))
	var p projects.Project
	json.NewDecoder(resp.Body).Decode(&p)

	writeBody, _ := json.Marshal(writeFileRequest{Mode: "relative", Project: p.Alias, Path: "notes.txt", Content: "hello"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/files", strings.NewReader(string(writeBody)))
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT /api/files: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	data, err := os.ReadFile(filepath.Join(projectDir, "notes.txt"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("expected file on disk with content hello, got %q err=%v", data, err)
	}

	readResp, err := srv.Client().Get(srv.URL + "/api/files?mode=relative&project=" + p.Alias + "&path=notes.txt")
	if err != nil {
		t.Fatalf("GET /api/files: %v", err)
	}
	var readBody struct {
		Content string `json:"content"`
	}
	json.NewDecoder(readResp.Body).Decode(&readBody)
	if readBody.Content != "hello" {
		t.Fatalf("expected read-back content hello, got %q", readBody.Content)
	}

	escapeBody, _ := json.Marshal(writeFileRequest{Mode: "relative", Project: p.Alias, Path: "../escape.txt", Content: "x"})
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/api/files", strings.NewReader(string(escapeBody)))
	resp, _ = srv.Client().Do(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on traversal attempt, got %d", resp.StatusCode)
	}
}
