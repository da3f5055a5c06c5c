// Package config assembles the gateway's startup configuration: a
// small set of bind/policy knobs plus the on-disk layout roots, loaded
// from a .env-style file and overlaid with environment variables and
// CLI flags.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the resolved startup configuration.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	RateLimitRPM   int

	// HomeDir is the user's home directory; DotDir names the
	// per-agent state directory beneath it (e.g. ".claude").
	HomeDir string
	DotDir  string

	// AgentName selects the tool-config well-known filename
	// (<home>/.<agentName>.json) and is passed to the runner.
	AgentName   string
	AgentBinary string

	Verbose bool
}

// Default returns a Config with sensible standalone-developer
// defaults; Load overlays it with file and environment values.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Host:         "0.0.0.0",
		Port:         8787,
		RateLimitRPM: 20,
		HomeDir:      home,
		DotDir:       ".claude",
		AgentName:    "claude",
		AgentBinary:  "claude",
	}
}

// AgentRoot is the directory scanned for per-project session logs.
func (c *Config) AgentRoot() string {
	return filepath.Join(c.HomeDir, c.DotDir, "projects")
}

// SidecarPath is the project registry's manual-add/display-name
// override file.
func (c *Config) SidecarPath() string {
	return filepath.Join(c.HomeDir, c.DotDir, "project-config.json")
}

// ToolConfigPath is the well-known MCP-style tool-config path the
// agent runner checks before appending --mcp-config.
func (c *Config) ToolConfigPath() string {
	return filepath.Join(c.HomeDir, "."+c.AgentName+".json")
}

// Load reads envFile (a .env-style file) if non-empty, falling back to
// a .env in the working directory when envFile is empty, then overlays
// process environment variables onto the defaults. A missing envFile
// is not an error: secrets may come from the real environment alone.
func Load(envFile string) (*Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("AGENTGATEWAY_HOST", &c.Host)
	envStr("AGENTGATEWAY_HOME", &c.HomeDir)
	envStr("AGENTGATEWAY_DOTDIR", &c.DotDir)
	envStr("AGENTGATEWAY_AGENT_NAME", &c.AgentName)
	envStr("AGENTGATEWAY_AGENT_BINARY", &c.AgentBinary)

	if v := os.Getenv("AGENTGATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	if v := os.Getenv("AGENTGATEWAY_RATE_LIMIT_RPM"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil && rpm >= 0 {
			c.RateLimitRPM = rpm
		}
	}
	if v := os.Getenv("AGENTGATEWAY_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}
}
