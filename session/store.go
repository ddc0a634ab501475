package session

import (
	"context"
	"time"
)

// Store defines the interface for session storage backends.
// A Store is responsible for persisting and retrieving session data
// by a unique session token. Implementations live in the memstore,
// redisstore, gormstore and mysqlstore packages.
type Store interface {
	// Get retrieves the session data associated with the given token.
	// It returns the raw session data, a boolean indicating whether
	// the session was found, and an error if the lookup failed.
	Get(ctx context.Context, token string) (data []byte, found bool, err error)

	// Set stores the session data for the given token until the
	// specified expiration time. If a session with the same token
	// already exists, it should be overwritten.
	Set(ctx context.Context, token string, data []byte, expiresAt time.Time) error

	// Delete removes the session associated with the given token.
	// It should not return an error if the session does not exist.
	Delete(ctx context.Context, token string) error
}
