package session

import "context"

// Storage defines the session storage API
type Storage interface {
	// Create persists a new session and assigns it a fresh unique ID.
	// The one-time console password is never persisted; the stored record always carries an empty one.
	Create(ctx context.Context, ses *Session) (*Session, error)

	// Get retrieves a session by its ID without consuming it.
	// It returns nil if no live session with that ID exists.
	Get(ctx context.Context, id int64) (*Session, error)

	// GetAndConsume retrieves a session by its ID and deletes it in the same transaction.
	// It returns nil if no live session with that ID exists.
	GetAndConsume(ctx context.Context, id int64) (*Session, error)

	// Clear deletes all sessions
	Clear(ctx context.Context) error

	// DeleteExpired deletes all sessions that exceeded their maximum age
	DeleteExpired(ctx context.Context) (int, error)
}
