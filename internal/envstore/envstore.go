// Package envstore holds the gateway's in-memory, volatile map of
// agent-scoped environment variables.
//
// The store is process-wide and intentionally has no persistence: a
// restart empties it. It's a mutex-guarded map with
// upsert-preserves-created_at semantics and no on-disk save path —
// these are session-scoped secrets, not durable config.
package envstore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentgateway/internal/apierr"
)

// maskedValue is substituted for sensitive values on external reads.
const maskedValue = "***HIDDEN***"

// Var is one environment variable entry.
type Var struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the env var table. Zero value is ready to use.
type Store struct {
	mu   sync.RWMutex
	vars map[string]*Var
}

// New creates an empty Store.
func New() *Store {
	return &Store{vars: make(map[string]*Var)}
}

// isSensitive reports whether key looks like a secret: it contains
// TOKEN, KEY, or SECRET, matching the field names the agent actually
// uses (e.g. ANTHROPIC_TOKEN).
func isSensitive(key string) bool {
	upper := strings.ToUpper(key)
	return strings.Contains(upper, "TOKEN") ||
		strings.Contains(upper, "KEY") ||
		strings.Contains(upper, "SECRET")
}

func mask(v Var) Var {
	if v.Value != "" && isSensitive(v.Key) {
		v.Value = maskedValue
	}
	return v
}

// List returns all vars sorted by key, with sensitive values masked.
func (s *Store) List() []Var {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Var, 0, len(s.vars))
	for _, v := range s.vars {
		out = append(out, mask(*v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Get returns a masked copy of one var, or false if absent.
func (s *Store) Get(key string) (Var, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vars[key]
	if !ok {
		return Var{}, false
	}
	return mask(*v), true
}

// Set upserts a var, preserving CreatedAt across updates.
func (s *Store) Set(key, value, description string) (Var, error) {
	if key == "" {
		return Var{}, apierr.New(apierr.InvalidArgument, "env key must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vars == nil {
		s.vars = make(map[string]*Var)
	}
	now := time.Now()
	existing, ok := s.vars[key]
	created := now
	if ok {
		created = existing.CreatedAt
	}
	v := &Var{
		Key:         key,
		Value:       value,
		Description: description,
		CreatedAt:   created,
		UpdatedAt:   now,
	}
	s.vars[key] = v
	return mask(*v), nil
}

// Delete removes a var, returning whether it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vars[key]; !ok {
		return false
	}
	delete(s.vars, key)
	return true
}

// BulkSet upserts many vars at once, returning the masked results
// sorted by key.
func (s *Store) BulkSet(kv map[string]string) ([]Var, error) {
	out := make([]Var, 0, len(kv))
	for k, v := range kv {
		rec, err := s.Set(k, v, "")
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// AsRecord returns the full, unmasked key/value map. Internal only:
// this is the view the Agent Runner injects into the child process
// environment, and must never be exposed externally.
func (s *Store) AsRecord() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v.Value
	}
	return out
}
