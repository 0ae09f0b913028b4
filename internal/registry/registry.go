// Package registry tracks the at-most-one active recording session per
// user. The map behind it is never exposed; every mutation goes through
// the registry's single mutex, so two near-simultaneous starts for the
// same user cannot both be admitted.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/vrcbz/dvr/internal/metrics"
)

// ErrDuplicateSession rejects a start while a capture for the same user
// is still running.
var ErrDuplicateSession = errors.New("recording already active for this user")

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Insert atomically checks-and-inserts the session under its user key.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.User]; ok {
		return ErrDuplicateSession
	}
	r.sessions[s.User] = s
	metrics.ActiveSessions.Inc()
	return nil
}

// Remove deletes the user's active entry. Idempotent.
func (r *Registry) Remove(user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[user]; ok {
		delete(r.sessions, user)
		metrics.ActiveSessions.Dec()
	}
}

func (r *Registry) Get(user string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[user]
	return s, ok
}

// List snapshots the currently capturing sessions, ordered by user.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
