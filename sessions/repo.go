package sessions

import "context"

// Patch mutates a session in place. It runs inside the store's critical section and must not block.
type Patch func(*Session)

// Repo defines the interface for session storage operations.
// All implementations are safe for concurrent use.
type Repo interface {
	// Create stores a new session and returns its generated id
	Create(ctx context.Context, session Session) (string, error)

	// Get retrieves a session by id, returning errors.ErrSessionNotFound when absent
	Get(ctx context.Context, sessionID string) (Session, error)

	// Update applies patch to an existing session. The returned id replaces sessionID; it only
	// differs for stores that encode the session into its id.
	Update(ctx context.Context, sessionID string, patch Patch) (string, error)

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, sessionID string) error
}
