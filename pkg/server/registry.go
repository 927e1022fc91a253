package server

import (
	"errors"
	"sync"
)

var (
	// ErrNameTaken is returned when the requested username is already registered
	ErrNameTaken = errors.New("username taken")
	// ErrServerFull is returned when the registry holds max clients
	ErrServerFull = errors.New("server is full")
	// ErrNameTooLong is returned when the requested username exceeds the configured limit
	ErrNameTooLong = errors.New("username too long")
	// ErrNameInvalid is returned for empty usernames or ones containing the member separator
	ErrNameInvalid = errors.New("username invalid")
)

// Registry maps usernames to sessions. All operations take one mutex, so the
// "is taken" check and the insert are a single atomic step.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string // Usernames in registration order
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register adds sess under its username. maxClients of 0 means unlimited.
func (r *Registry) Register(sess *Session, maxClients int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := sess.Username()
	if _, ok := r.sessions[name]; ok {
		return ErrNameTaken
	}
	if maxClients > 0 && len(r.sessions) >= maxClients {
		return ErrServerFull
	}

	r.sessions[name] = sess
	r.order = append(r.order, name)
	sess.registered.Store(true)
	return nil
}

// Unregister removes sess if its username still maps to it. It reports whether
// anything was removed.
func (r *Registry) Unregister(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := sess.Username()
	if current, ok := r.sessions[name]; !ok || current != sess {
		return false
	}
	delete(r.sessions, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the session registered under name
func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[name]
	return sess, ok
}

// List returns usernames in registration order
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string{}, r.order...)
}

// Snapshot returns the registered sessions in registration order
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.order))
	for _, name := range r.order {
		sessions = append(sessions, r.sessions[name])
	}
	return sessions
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Clear empties the registry and returns what it held
func (r *Registry) Clear() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.order))
	for _, name := range r.order {
		sessions = append(sessions, r.sessions[name])
	}
	r.sessions = make(map[string]*Session)
	r.order = nil
	return sessions
}
