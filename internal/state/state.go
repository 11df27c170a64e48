// Package state implements the persistent-state store of spec.md §4.9: a
// single JSON object on disk mapping project-name -> {key -> value}, with
// crash-safe write-to-temp-then-rename semantics grounded on the teacher's
// use of github.com/google/renameio for exactly this pattern (distri writes
// its package metadata and autobuilder's stamp files the same way).
package state

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/google/renameio"
)

// GlobalProject is the reserved key for run-scoped keys (cmd/kde-builder
// stores resume-index there).
const GlobalProject = "global"

// DigestsProject is the reserved key for the MD5-digest pseudo-project.
const DigestsProject = "/digests"

// Store is the in-memory view of the on-disk JSON object, guarded for
// concurrent MODULE_PERSIST_OPT forwarding from the updater/monitor
// processes (spec.md §4.9 "Concurrency: only the build-parent writes").
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]map[string]interface{}
}

// Load reads path if it exists, or returns an empty Store bound to path.
func Load(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]map[string]interface{})}
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(buf) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(buf, &s.data); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the value stored for project/key.
func (s *Store) Get(project, key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, ok := s.data[project]
	if !ok {
		return nil, false
	}
	v, ok := proj[key]
	return v, ok
}

// GetString is a convenience accessor.
func (s *Store) GetString(project, key string) (string, bool) {
	v, ok := s.Get(project, key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// GetInt is a convenience accessor.
func (s *Store) GetInt(project, key string) (int, bool) {
	v, ok := s.Get(project, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// Set records project/key=value in memory. Callers flush explicitly via
// Flush (only the build-parent calls Flush; children forward writes as
// MODULE_PERSIST_OPT messages which the parent applies via Set).
func (s *Store) Set(project, key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, ok := s.data[project]
	if !ok {
		proj = make(map[string]interface{})
		s.data[project] = proj
	}
	proj[key] = value
}

// IncrFailureCount bumps project's failure-count by delta (delta may be
// negative to reset to zero on success) and returns the new value.
func (s *Store) IncrFailureCount(project string, delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, ok := s.data[project]
	if !ok {
		proj = make(map[string]interface{})
		s.data[project] = proj
	}
	cur := 0
	if v, ok := proj["failure-count"]; ok {
		if f, ok := v.(float64); ok {
			cur = int(f)
		} else if i, ok := v.(int); ok {
			cur = i
		}
	}
	cur += delta
	if cur < 0 {
		cur = 0
	}
	// Stored as float64, the type encoding/json decodes numbers into, so
	// the in-memory value equals the one a reload produces.
	proj["failure-count"] = float64(cur)
	return cur
}

// Flush serializes the whole store to disk atomically: the object is valid
// JSON at all times, and a crash mid-serialization leaves the previous file
// intact (spec.md §3 invariant, §4.9), implemented with renameio's
// write-to-temp-then-rename, as the teacher does for its own on-disk state.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path, buf, 0644)
}

// Snapshot returns a deep-enough copy of the whole store for testing
// round-trips (spec.md P10).
func (s *Store) Snapshot() map[string]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(s.data))
	for proj, kv := range s.data {
		cp := make(map[string]interface{}, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		out[proj] = cp
	}
	return out
}
