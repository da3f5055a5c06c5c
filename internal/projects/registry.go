// Package projects implements the Project Registry: it
// discovers the agent's on-disk project directories, merges a sidecar
// JSON config of manually-added/renamed projects, and resolves alias
// strings to real filesystem paths.
//
// The sidecar is persisted atomically via a temp-file-then-rename
// save, guarded by a mutex over the in-memory map.
package projects

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/agentgateway/internal/apierr"
)

// Origin describes how a project was discovered.
type Origin string

const (
	OriginAgentManaged Origin = "agent-managed"
	OriginManuallyAdded Origin = "manually-added"
)

// Project is one entry in the registry.
type Project struct {
	Alias        string `json:"alias"`
	RealPath     string `json:"realPath"`
	DisplayName  string `json:"displayName"`
	Origin       Origin `json:"origin"`
	SessionCount int    `json:"sessionCount"`
}

// sidecarEntry is the on-disk shape of project-config.json entries.
type sidecarEntry struct {
	ManuallyAdded bool   `json:"manuallyAdded,omitempty"`
	OriginalPath  string `json:"originalPath,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
}

var junkNames = map[string]bool{
	".DS_Store":   true,
	"Thumbs.db":   true,
	".localized":  true,
}

// Registry discovers and tracks projects for one agent root.
type Registry struct {
	agentRoot  string
	sidecarPath string

	mu       sync.RWMutex
	sidecar  map[string]sidecarEntry
	pathCache map[string]string // alias -> real path, write-once-per-alias
}

// New creates a Registry rooted at agentRoot, with its sidecar at
// <home>/<dotdir>/project-config.json (sidecarPath).
func New(agentRoot, sidecarPath string) *Registry {
	r := &Registry{
		agentRoot:   agentRoot,
		sidecarPath: sidecarPath,
		sidecar:     make(map[string]sidecarEntry),
		pathCache:   make(map[string]string),
	}
	r.loadSidecar()
	return r
}

func (r *Registry) loadSidecar() {
	data, err := os.ReadFile(r.sidecarPath)
	if err != nil {
		return
	}
	var m map[string]sidecarEntry
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("projects: failed to parse sidecar", "path", r.sidecarPath, "error", err)
		return
	}
	r.mu.Lock()
	r.sidecar = m
	r.mu.Unlock()
}

// saveSidecar persists the sidecar atomically via temp file + rename.
func (r *Registry) saveSidecar() error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.sidecar, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.sidecarPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "project-config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, r.sidecarPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// AliasFromPath derives an alias from a real path by replacing path
// separators with '-'.
func AliasFromPath(realPath string) string {
	return strings.ReplaceAll(strings.Trim(realPath, string(filepath.Separator)), string(filepath.Separator), "-")
}

// decodeAlias is the inverse transform used as a last-resort fallback
// when no cwd evidence exists in any log.
func decodeAlias(alias string) string {
	return string(filepath.Separator) + strings.ReplaceAll(alias, "-", string(filepath.Separator))
}

// Discover enumerates agent-managed project directories plus sidecar
// manual entries, resolving each alias's real path and display name.
func (r *Registry) Discover() ([]Project, error) {
	entries, err := os.ReadDir(r.agentRoot)
	if err != nil && !os.IsNotExist(err) {
		return nil, apierr.Wrap(apierr.Internal, err)
	}

	aliases := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if junkNames[name] || strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			aliases[name] = true
		}
	}

	r.mu.RLock()
	for alias, entry := range r.sidecar {
		if entry.ManuallyAdded {
			aliases[alias] = true
		}
	}
	r.mu.RUnlock()

	out := make([]Project, 0, len(aliases))
	for alias := range aliases {
		p, err := r.buildProject(alias)
		if err != nil {
			slog.Warn("projects: skipping alias", "alias", alias, "error", err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

func (r *Registry) buildProject(alias string) (Project, error) {
	realPath := r.resolveRealPath(alias)

	r.mu.RLock()
	entry, hasEntry := r.sidecar[alias]
	r.mu.RUnlock()

	origin := OriginAgentManaged
	if hasEntry && entry.ManuallyAdded {
		origin = OriginManuallyAdded
	}

	displayName := displayNameFor(alias, realPath, entry)
	sessionCount := countSessionFiles(filepath.Join(r.agentRoot, alias))

	return Project{
		Alias:        alias,
		RealPath:     realPath,
		DisplayName:  displayName,
		Origin:       origin,
		SessionCount: sessionCount,
	}, nil
}

func countSessionFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			n++
		}
	}
	return n
}

// displayNameFor applies the resolution order: sidecar override ->
// manifest "name" field -> final path segment -> decoded alias.
func displayNameFor(alias, realPath string, entry sidecarEntry) string {
	if entry.DisplayName != "" {
		return entry.DisplayName
	}
	if name := manifestName(realPath); name != "" {
		return name
	}
	if realPath != "" {
		base := filepath.Base(realPath)
		if base != "." && base != string(filepath.Separator) {
			return base
		}
	}
	return decodeAlias(alias)
}

// manifestName looks for a package.json-style manifest's "name" field
// at the given real path.
func manifestName(realPath string) string {
	if realPath == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(realPath, "package.json"))
	if err != nil {
		return ""
	}
	var m struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	return m.Name
}

// cwdLine is the subset of a log line this package cares about.
type cwdLine struct {
	Cwd       string `json:"cwd"`
	Timestamp string `json:"timestamp"`
}

// resolveRealPath implements the project real-path selection rule:
//  1. Scan every .jsonl file under the alias directory, collecting the
//     frequency and latest timestamp of every distinct cwd value.
//  2. If >=1 distinct cwd found: pick the most frequent, unless the
//     most-recently-seen cwd's count is >= 30% of the most frequent's
//     count, in which case prefer the most recent.
//  3. Otherwise decode the alias (separators for '-').
//
// The result is cached for the process lifetime (write-once-per-alias).
func (r *Registry) resolveRealPath(alias string) string {
	r.mu.RLock()
	if cached, ok := r.pathCache[alias]; ok {
		r.mu.RUnlock()
		return cached
	}
	r.mu.RUnlock()

	r.mu.RLock()
	if entry, ok := r.sidecar[alias]; ok && entry.ManuallyAdded && entry.OriginalPath != "" {
		r.mu.RUnlock()
		r.cachePath(alias, entry.OriginalPath)
		return entry.OriginalPath
	}
	r.mu.RUnlock()

	dir := filepath.Join(r.agentRoot, alias)
	counts := make(map[string]int)
	latestTS := make(map[string]string)
	var mostRecentCwd string
	var mostRecentTS string

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
				continue
			}
			scanCwds(filepath.Join(dir, e.Name()), counts, latestTS, &mostRecentCwd, &mostRecentTS)
		}
	}

	resolved := pickRealPath(alias, counts, mostRecentCwd)
	r.cachePath(alias, resolved)
	return resolved
}

func (r *Registry) cachePath(alias, path string) {
	r.mu.Lock()
	r.pathCache[alias] = path
	r.mu.Unlock()
}

func scanCwds(path string, counts map[string]int, latestTS map[string]string, mostRecentCwd, mostRecentTS *string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cl cwdLine
		if err := json.Unmarshal([]byte(line), &cl); err != nil || cl.Cwd == "" {
			continue
		}
		counts[cl.Cwd]++
		if cl.Timestamp > latestTS[cl.Cwd] {
			latestTS[cl.Cwd] = cl.Timestamp
		}
		if cl.Timestamp > *mostRecentTS {
			*mostRecentTS = cl.Timestamp
			*mostRecentCwd = cl.Cwd
		}
	}
}

// pickRealPath applies the selection rule given accumulated counts.
func pickRealPath(alias string, counts map[string]int, mostRecentCwd string) string {
	if len(counts) == 0 {
		return decodeAlias(alias)
	}

	var mostFrequentCwd string
	mostFrequentCount := -1
	for cwd, c := range counts {
		if c > mostFrequentCount || (c == mostFrequentCount && cwd < mostFrequentCwd) {
			mostFrequentCount = c
			mostFrequentCwd = cwd
		}
	}

	if mostRecentCwd != "" && mostRecentCwd != mostFrequentCwd {
		recentCount := counts[mostRecentCwd]
		threshold := float64(mostFrequentCount) * 0.3
		if float64(recentCount) >= threshold {
			return mostRecentCwd
		}
	}
	return mostFrequentCwd
}

// ResolveAlias returns the real path for an alias.
func (r *Registry) ResolveAlias(alias string) string {
	return r.resolveRealPath(alias)
}

// AddManual registers a new project pointing at an existing path.
func (r *Registry) AddManual(path, displayName string) (Project, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return Project{}, apierr.New(apierr.InvalidArgument, "path does not exist: %s", path)
	}

	alias := AliasFromPath(path)

	r.mu.Lock()
	if _, exists := r.sidecar[alias]; exists {
		r.mu.Unlock()
		return Project{}, apierr.New(apierr.Conflict, "alias already exists: %s", alias)
	}
	r.sidecar[alias] = sidecarEntry{
		ManuallyAdded: true,
		OriginalPath:  path,
		DisplayName:   displayName,
	}
	r.mu.Unlock()

	r.cachePath(alias, path)

	if err := r.saveSidecar(); err != nil {
		return Project{}, apierr.Wrap(apierr.Internal, err)
	}

	return r.buildProject(alias)
}

// Rename sets (or clears, if empty) the sidecar display-name override
// for an alias. It never mutates the alias itself.
func (r *Registry) Rename(alias, displayName string) error {
	r.mu.Lock()
	entry := r.sidecar[alias]
	entry.DisplayName = displayName
	r.sidecar[alias] = entry
	r.mu.Unlock()

	return r.saveSidecar()
}

// Delete removes a project. It fails unless every .jsonl file under
// the alias directory is effectively empty (no non-blank lines).
func (r *Registry) Delete(alias string) error {
	dir := filepath.Join(r.agentRoot, alias)

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return apierr.Wrap(apierr.Internal, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		if !isEffectivelyEmpty(filepath.Join(dir, e.Name())) {
			return apierr.New(apierr.Conflict, "project %s still has sessions", alias)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return apierr.Wrap(apierr.Internal, err)
	}

	r.mu.Lock()
	delete(r.sidecar, alias)
	delete(r.pathCache, alias)
	r.mu.Unlock()

	return r.saveSidecar()
}

func isEffectivelyEmpty(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			return false
		}
	}
	return true
}
