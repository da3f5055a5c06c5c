package agentrunner

import "strings"

// hostEnvWhitelist is the only host process variables visible to the
// child.
var hostEnvWhitelist = map[string]bool{
	"PATH":    true,
	"HOME":    true,
	"USER":    true,
	"SHELL":   true,
	"TERM":    true,
	"TMPDIR":  true,
	"LANG":    true,
	"LC_ALL":  true,
}

// buildEnv layers host whitelist < env store record < per-request
// extraEnv, each layer fully overriding the one below it on key
// collision. hostEnviron is os.Environ()-shaped ("KEY=VALUE").
func buildEnv(hostEnviron []string, storeRecord, extraEnv map[string]string) []string {
	merged := make(map[string]string)

	for _, kv := range hostEnviron {
		key, value, ok := splitEnv(kv)
		if !ok || !hostEnvWhitelist[key] {
			continue
		}
		merged[key] = value
	}
	for k, v := range storeRecord {
		merged[k] = v
	}
	for k, v := range extraEnv {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func splitEnv(kv string) (key, value string, ok bool) {
	idx := strings.IndexByte(kv, '=')
	if idx < 0 {
		return "", "", false
	}
	return kv[:idx], kv[idx+1:], true
}
