// Package registry is the single source of truth for session state. All
// access goes through its lock-protected API; reads return deep copies so a
// poller iterating a snapshot never sees it change mid-read.
package registry

import (
	"sync"

	"reconstructd/pkg/types"
)

type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "session not found: " + e.id }

// IsNotFound reports whether err indicates an unknown session id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

type alreadyExistsError struct{ id string }

func (e alreadyExistsError) Error() string { return "session already exists: " + e.id }

// IsAlreadyExists reports whether err indicates a duplicate registration.
func IsAlreadyExists(err error) bool {
	_, ok := err.(alreadyExistsError)
	return ok
}

// concurrentModificationError is a race defense: it signals that two pipeline
// executions tried to own the same session. The supervisor's at-most-one
// invariant should make this unreachable.
type concurrentModificationError struct{ id string }

func (e concurrentModificationError) Error() string {
	return "concurrent pipeline execution for session: " + e.id
}

// IsConcurrentModification reports whether err is the re-entrant writer defense.
func IsConcurrentModification(err error) bool {
	_, ok := err.(concurrentModificationError)
	return ok
}

type session struct {
	snap   types.SessionSnapshot
	inputs []string
	// writer is set while a pipeline execution owns this session.
	writer bool
}

// Registry is a thread-safe store mapping session id to session state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func New() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

// clone deep-copies a snapshot so callers never share pointers with the store.
func clone(s types.SessionSnapshot) types.SessionSnapshot {
	out := s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	if s.Manifest != nil {
		m := *s.Manifest
		m.Artifacts = make([]types.Artifact, len(s.Manifest.Artifacts))
		copy(m.Artifacts, s.Manifest.Artifacts)
		for i, a := range m.Artifacts {
			if a.BoundingBox != nil {
				bb := *a.BoundingBox
				m.Artifacts[i].BoundingBox = &bb
			}
		}
		out.Manifest = &m
	}
	return out
}

// Register creates a session entry in the uploaded state with its input set.
func (r *Registry) Register(snap types.SessionSnapshot, inputs []string) (types.SessionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[snap.SessionID]; ok {
		return types.SessionSnapshot{}, alreadyExistsError{id: snap.SessionID}
	}
	s := &session{snap: clone(snap), inputs: append([]string(nil), inputs...)}
	r.sessions[snap.SessionID] = s
	return clone(s.snap), nil
}

// Get returns an immutable snapshot of the session.
func (r *Registry) Get(id string) (types.SessionSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return types.SessionSnapshot{}, notFoundError{id: id}
	}
	return clone(s.snap), nil
}

// Inputs returns a copy of the session's registered input file list.
func (r *Registry) Inputs(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, notFoundError{id: id}
	}
	return append([]string(nil), s.inputs...), nil
}

// Update applies fn to the session under the lock and returns the new
// snapshot. fn receives a copy; the result is stored atomically so pollers
// never observe a partially applied mutation.
func (r *Registry) Update(id string, fn func(*types.SessionSnapshot)) (types.SessionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return types.SessionSnapshot{}, notFoundError{id: id}
	}
	next := clone(s.snap)
	fn(&next)
	s.snap = clone(next)
	return next, nil
}

// BeginRun marks the session as owned by a pipeline execution. A second
// BeginRun before EndRun fails with a concurrent-modification error.
func (r *Registry) BeginRun(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return notFoundError{id: id}
	}
	if s.writer {
		return concurrentModificationError{id: id}
	}
	s.writer = true
	return nil
}

// EndRun releases the writer ownership taken by BeginRun.
func (r *Registry) EndRun(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.writer = false
	}
}

// Remove deletes the session entry. Sessions are removed only on explicit
// cleanup, never implicitly.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return notFoundError{id: id}
	}
	delete(r.sessions, id)
	return nil
}

// Snapshots returns copies of all sessions, for aggregate status reporting.
func (r *Registry) Snapshots() []types.SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.SessionSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, clone(s.snap))
	}
	return out
}
