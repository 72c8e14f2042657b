package sessions

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-login-relay/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]Session
	newID    func() string
}

// NewInMemoryRepo creates a new in-memory session repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]Session),
		newID:    uuid.NewString,
	}
}

// Create implements Repo.
func (r *InMemoryRepo) Create(_ context.Context, session Session) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = r.newID()
	}
	r.sessions[id] = session
	return id, nil
}

// Get implements Repo.
func (r *InMemoryRepo) Get(_ context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, errors.ErrSessionNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, errors.ErrSessionNotFound
	}
	return session, nil
}

// Update implements Repo.
func (r *InMemoryRepo) Update(_ context.Context, sessionID string, patch Patch) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return "", errors.ErrSessionNotFound
	}
	patch(&session)
	r.sessions[sessionID] = session
	return sessionID, nil
}

// Delete implements Repo.
func (r *InMemoryRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	return nil
}

// Len returns the number of sessions held.
func (r *InMemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *InMemoryRepo) snapshot() map[string]Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Session, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s
	}
	return out
}

func (r *InMemoryRepo) replace(sessions map[string]Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = sessions
}
