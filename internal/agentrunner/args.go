package agentrunner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

// defaultPlanTools is merged into allowedTools when permissionMode is
// "plan".
var defaultPlanTools = []string{"Read", "Task", "exit_plan_mode", "TodoRead", "TodoWrite"}

// buildArgsParams carries everything buildArgs needs to assemble argv.
// buildArgs derives the tool-config path from HomeDir and AgentName and
// reads that one file (via hasToolConfig) to decide on --mcp-config;
// nothing else it does touches disk.
type buildArgsParams struct {
	Command    string
	Opts       protocol.RunOptions
	ImagePaths []string
	HomeDir    string
	AgentName  string
}

// buildArgs assembles the agent CLI argv in seven fixed steps.
// Order matters for agent CLI compatibility.
func buildArgs(p buildArgsParams) []string {
	var args []string

	// 1. --print <prompt>, with an images block appended when present.
	if p.Command != "" {
		prompt := p.Command
		if len(p.ImagePaths) > 0 {
			var b strings.Builder
			b.WriteString(prompt)
			b.WriteString("\n\n[Images provided at the following paths:]\n")
			for i, path := range p.ImagePaths {
				fmt.Fprintf(&b, "%d. %s\n", i+1, path)
			}
			prompt = strings.TrimRight(b.String(), "\n")
		}
		args = append(args, "--print", prompt)
	}

	// 2. --resume <sessionId>
	isResume := p.Opts.Resume && p.Opts.SessionID != ""
	if isResume {
		args = append(args, "--resume", p.Opts.SessionID)
	}

	// 3. output format, always.
	args = append(args, "--output-format", "stream-json", "--verbose")

	// 4. --mcp-config <path> if declared.
	toolConfigPath := filepath.Join(p.HomeDir, "."+p.AgentName+".json")
	if hasToolConfig(toolConfigPath, p.Opts.Cwd) {
		args = append(args, "--mcp-config", toolConfigPath)
	}

	// 5. --model sonnet for new (non-resume) invocations.
	if !isResume {
		args = append(args, "--model", "sonnet")
	}

	// 6. --permission-mode <mode> when not default.
	mode := p.Opts.PermissionMode
	if mode != "" && mode != protocol.PermissionDefault {
		args = append(args, "--permission-mode", mode)
	}

	// 7. Tool-policy expansion.
	args = append(args, toolPolicyArgs(p.Opts)...)

	return args
}

func toolPolicyArgs(opts protocol.RunOptions) []string {
	policy := opts.ToolsSettings
	if policy == nil {
		policy = &protocol.ToolsSettings{}
	}

	if policy.SkipPermissions && opts.PermissionMode != protocol.PermissionPlan {
		return []string{"--dangerously-skip-permissions"}
	}

	allowed := append([]string(nil), policy.AllowedTools...)
	if opts.PermissionMode == protocol.PermissionPlan {
		allowed = mergeUnique(allowed, defaultPlanTools)
	}

	var args []string
	for _, tool := range allowed {
		args = append(args, "--allowedTools", tool)
	}
	for _, tool := range policy.DisallowedTools {
		args = append(args, "--disallowedTools", tool)
	}
	return args
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, v := range base {
		seen[v] = true
	}
	out := append([]string(nil), base...)
	for _, v := range extra {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
