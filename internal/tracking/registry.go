package tracking

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateTrackID is returned by Put when a session with the same track
// ID is already registered. This indicates an allocator bug, not an
// environmental condition.
var ErrDuplicateTrackID = errors.New("duplicate track ID in registry")

// Registry is the in-memory store of currently active sessions, keyed
// uniquely by track ID. It is a pure state container: all matching and
// expiry decisions live in the Matcher and Manager.
//
// The registry's lock guards only the map itself and is held for short,
// non-blocking operations. Cycle-level ordering is the Manager's concern.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int64]*Session),
	}
}

// Put registers a session. The track ID must not already be present.
func (r *Registry) Put(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.TrackID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateTrackID, s.TrackID)
	}
	r.sessions[s.TrackID] = s
	return nil
}

// Remove deletes a session by track ID. Removing an absent ID is a no-op.
func (r *Registry) Remove(trackID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, trackID)
}

// GetActive returns the active sessions for one source, ordered by track ID.
// The returned pointers are live; callers mutate them only while holding the
// owning source's cycle lock.
func (r *Registry) GetActive(sourceID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*Session
	for _, s := range r.sessions {
		if s.SourceID == sourceID {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].TrackID < active[j].TrackID })
	return active
}

// Snapshot returns value copies of the active sessions for one source (or
// all sources when sourceID is empty), safe to read without any cycle lock.
func (r *Registry) Snapshot(sourceID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Session
	for _, s := range r.sessions {
		if sourceID == "" || s.SourceID == sourceID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

// SourceIDs returns the distinct source IDs with at least one active session.
func (r *Registry) SourceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, s := range r.sessions {
		if !seen[s.SourceID] {
			seen[s.SourceID] = true
			ids = append(ids, s.SourceID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of active sessions across all sources.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
