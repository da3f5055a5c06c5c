package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentgateway/internal/agentrunner"
	"github.com/nextlevelbuilder/agentgateway/internal/envstore"
	"github.com/nextlevelbuilder/agentgateway/internal/projects"
	"github.com/nextlevelbuilder/agentgateway/internal/watch"
	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestServer(t *testing.T, agentScript string) (*httptest.Server, *Server) {
	t.Helper()
	agentRoot := t.TempDir()
	registry := projects.New(agentRoot, filepath.Join(agentRoot, "project-config.json"))
	runner := agentrunner.New(agentScript, t.TempDir(), "claude", envstore.New(), nil)
	broadcaster := watch.NewBroadcaster()

	s := NewServer(Config{}, registry, runner, broadcaster)
	ts := httptest.NewServer(s.BuildMux())
	t.Cleanup(ts.Close)
	return ts, s
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.OutboundFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f protocol.OutboundFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// TestNewSessionFlow covers a brand-new run: session-created, then
// agent-response, then a zero-exit agent-complete with isNewSession.
func TestNewSessionFlow(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", `echo '{"session_id":"abc","type":"assistant","message":{"role":"assistant"}}'`)
	proj := t.TempDir()

	ts, _ := newTestServer(t, script)
	conn := dial(t, ts)
	defer conn.Close()

	cmd := protocol.InboundFrame{
		Type:    protocol.InboundClaudeCommand,
		Command: "hello",
		Options: &protocol.RunOptions{Cwd: proj, ProjectPath: proj},
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatal(err)
	}

	f1 := readFrame(t, conn)
	if f1.Type != protocol.OutboundSessionCreated || f1.SessionID != "abc" {
		t.Fatalf("expected session-created(abc) first, got %+v", f1)
	}
	f2 := readFrame(t, conn)
	if f2.Type != protocol.OutboundAgentResponse {
		t.Fatalf("expected agent-response second, got %+v", f2)
	}
	f3 := readFrame(t, conn)
	if f3.Type != protocol.OutboundAgentComplete || f3.ExitCode != 0 || !f3.IsNewSession {
		t.Fatalf("expected agent-complete(0, isNewSession=true), got %+v", f3)
	}
}

// TestResumeSkipsSessionCreated checks that resuming a known session
// id never emits session-created.
func TestResumeSkipsSessionCreated(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", `echo '{"session_id":"abc","type":"assistant"}'`)
	proj := t.TempDir()

	ts, _ := newTestServer(t, script)
	conn := dial(t, ts)
	defer conn.Close()

	cmd := protocol.InboundFrame{
		Type:    protocol.InboundClaudeCommand,
		Command: "continue",
		Options: &protocol.RunOptions{Cwd: proj, ProjectPath: proj, SessionID: "abc", Resume: true},
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatal(err)
	}

	f1 := readFrame(t, conn)
	if f1.Type != protocol.OutboundAgentResponse {
		t.Fatalf("expected no session-created on resume, got %+v", f1)
	}
	f2 := readFrame(t, conn)
	if f2.Type != protocol.OutboundAgentComplete {
		t.Fatalf("expected agent-complete, got %+v", f2)
	}
}

// TestAbortDuringStream checks that an abort-session frame for a live
// invocation terminates it and that a second abort reports failure.
func TestAbortDuringStream(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", `
echo '{"session_id":"abc","type":"assistant"}'
trap 'exit 143' TERM
sleep 30 >/dev/null 2>&1 &
wait
`)
	proj := t.TempDir()

	ts, _ := newTestServer(t, script)
	conn := dial(t, ts)
	defer conn.Close()

	cmd := protocol.InboundFrame{
		Type:    protocol.InboundClaudeCommand,
		Command: "hello",
		Options: &protocol.RunOptions{Cwd: proj, ProjectPath: proj},
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatal(err)
	}

	f1 := readFrame(t, conn)
	if f1.Type != protocol.OutboundSessionCreated {
		t.Fatalf("expected session-created first, got %+v", f1)
	}
	f2 := readFrame(t, conn)
	if f2.Type != protocol.OutboundAgentResponse {
		t.Fatalf("expected agent-response, got %+v", f2)
	}

	abort := protocol.InboundFrame{Type: protocol.InboundAbortSession, SessionID: "abc"}
	if err := conn.WriteJSON(abort); err != nil {
		t.Fatal(err)
	}

	f3 := readFrame(t, conn)
	if f3.Type != protocol.OutboundSessionAborted || !f3.Success || f3.SessionID != "abc" {
		t.Fatalf("expected session-aborted(abc, true), got %+v", f3)
	}
	f4 := readFrame(t, conn)
	if f4.Type != protocol.OutboundAgentComplete || f4.ExitCode == 0 {
		t.Fatalf("expected non-zero agent-complete after abort, got %+v", f4)
	}

	second := protocol.InboundFrame{Type: protocol.InboundAbortSession, SessionID: "abc"}
	if err := conn.WriteJSON(second); err != nil {
		t.Fatal(err)
	}
	f5 := readFrame(t, conn)
	if f5.Type != protocol.OutboundSessionAborted || f5.Success {
		t.Fatalf("expected second abort to report success=false, got %+v", f5)
	}
}

// TestWatcherBroadcastReachesAttachedSocket checks that a
// projects_updated frame pushed through the broadcaster reaches an
// attached client as valid JSON.
func TestWatcherBroadcastReachesAttachedSocket(t *testing.T) {
	ts, s := newTestServer(t, "/bin/true")
	conn := dial(t, ts)
	defer conn.Close()

	// Give the server a moment to register the client before broadcasting.
	time.Sleep(50 * time.Millisecond)

	s.broadcaster.Broadcast(watch.Frame{
		Type:        protocol.OutboundProjectsUpdated,
		Projects:    []projects.Project{{Alias: "demo", RealPath: "/tmp/demo"}},
		Timestamp:   12345,
		ChangeType:  "add",
		ChangedFile: "demo/new.jsonl",
	})

	f := readFrame(t, conn)
	if f.Type != protocol.OutboundProjectsUpdated || f.ChangedFile != "demo/new.jsonl" {
		t.Fatalf("expected projects_updated for demo/new.jsonl, got %+v", f)
	}
	var got []projects.Project
	if err := json.Unmarshal(f.Projects, &got); err != nil {
		t.Fatalf("unmarshal projects: %v", err)
	}
	if len(got) != 1 || got[0].Alias != "demo" {
		t.Fatalf("expected one project 'demo', got %+v", got)
	}
}

// TestUnknownFrameTypeRepliesWithError checks that an unrecognized
// inbound frame type gets a protocol error reply, not a dropped
// connection.
func TestUnknownFrameTypeRepliesWithError(t *testing.T) {
	ts, _ := newTestServer(t, "/bin/true")
	conn := dial(t, ts)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "not-a-real-type"}); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if f.Type != protocol.OutboundError {
		t.Fatalf("expected error frame, got %+v", f)
	}

	// Connection must still be usable afterward.
	if err := conn.WriteJSON(map[string]string{"type": "not-a-real-type-2"}); err != nil {
		t.Fatal(err)
	}
	f2 := readFrame(t, conn)
	if f2.Type != protocol.OutboundError {
		t.Fatalf("expected connection to survive an unknown frame, got %+v", f2)
	}
}

func TestResolveRunOptionsRejectsMissingProjectRef(t *testing.T) {
	_, s := newTestServer(t, "/bin/true")
	if _, err := s.resolveRunOptions(protocol.RunOptions{}); err == nil {
		t.Fatal("expected an error when neither projectPath nor cwd is set")
	}
}
