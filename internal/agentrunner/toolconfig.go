package agentrunner

import (
	"encoding/json"
	"os"
)

// toolConfig mirrors the well-known <home>/.<agent>.json shape: a
// global mcpServers map plus optional per-project scoping keyed by
// absolute cwd.
type toolConfig struct {
	McpServers map[string]any            `json:"mcpServers"`
	Projects   map[string]toolConfigScope `json:"projects"`
}

type toolConfigScope struct {
	McpServers map[string]any `json:"mcpServers"`
}

// hasToolConfig reports whether the tool-config file at path declares
// at least one MCP server, either globally or scoped to cwd. Missing or malformed files are treated as "no config".
func hasToolConfig(path, cwd string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var cfg toolConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return false
	}
	if len(cfg.McpServers) > 0 {
		return true
	}
	if scope, ok := cfg.Projects[cwd]; ok && len(scope.McpServers) > 0 {
		return true
	}
	return false
}
