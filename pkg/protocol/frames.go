// Package protocol defines the wire frames exchanged on the gateway's
// single WebSocket endpoint.
package protocol

import "encoding/json"

// ProtocolVersion is bumped whenever a frame shape changes incompatibly.
const ProtocolVersion = 1

// Inbound frame type tags (client -> server).
const (
	InboundClaudeCommand = "claude-command"
	InboundAbortSession   = "abort-session"
)

// Outbound frame type tags (server -> client). Preserved verbatim for
// client compatibility.
const (
	OutboundSessionCreated   = "session-created"
	OutboundAgentResponse    = "agent-response"
	OutboundAgentOutput      = "agent-output"
	OutboundAgentError       = "agent-error"
	OutboundAgentComplete    = "agent-complete"
	OutboundSessionAborted   = "session-aborted"
	OutboundProjectsUpdated  = "projects_updated"
	OutboundError            = "error"
)

// PermissionMode mirrors the agent's acceptance of a permission mode
// string. Values beyond "default"/"plan" (e.g. "bypassPermissions") are
// passed through opaquely rather than validated against a fixed set.
type PermissionMode = string

const (
	PermissionDefault           PermissionMode = "default"
	PermissionPlan              PermissionMode = "plan"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"
)

// ImageAttachment is a client-supplied image for one run.
type ImageAttachment struct {
	Name     string `json:"name"`
	Data     string `json:"data"` // data: URI
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// ToolsSettings carries the per-invocation tool policy from the client.
type ToolsSettings struct {
	AllowedTools    []string `json:"allowedTools,omitempty"`
	DisallowedTools []string `json:"disallowedTools,omitempty"`
	SkipPermissions bool     `json:"skipPermissions,omitempty"`
}

// RunOptions is the payload of an inbound "claude-command" frame.
type RunOptions struct {
	Cwd            string            `json:"cwd"`
	ProjectPath    string            `json:"projectPath"`
	SessionID      string            `json:"sessionId,omitempty"`
	Resume         bool              `json:"resume,omitempty"`
	PermissionMode PermissionMode    `json:"permissionMode,omitempty"`
	ToolsSettings  *ToolsSettings    `json:"toolsSettings,omitempty"`
	Images         []ImageAttachment `json:"images,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
}

// InboundFrame is the closed tagged union of client->server frames.
// Unknown Type values are not an error to decode; the gateway replies
// with an OutboundError frame rather than dropping the connection.
type InboundFrame struct {
	Type      string      `json:"type"`
	Command   string      `json:"command,omitempty"`
	Options   *RunOptions `json:"options,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
}

// OutboundFrame is the closed tagged union of server->client frames.
// Fields are all optional; only the ones relevant to Type are populated.
type OutboundFrame struct {
	Type         string          `json:"type"`
	SessionID    string          `json:"sessionId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	ExitCode     int             `json:"exitCode,omitempty"`
	IsNewSession bool            `json:"isNewSession,omitempty"`
	Success      bool            `json:"success,omitempty"`
	Projects     json.RawMessage `json:"projects,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	ChangeType   string          `json:"changeType,omitempty"`
	ChangedFile  string          `json:"changedFile,omitempty"`
}

// NewError builds a protocol-error outbound frame.
func NewError(msg string) OutboundFrame {
	return OutboundFrame{Type: OutboundError, Error: msg}
}
