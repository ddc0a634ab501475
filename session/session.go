package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Session represents an HTTP session with associated data. A Session
// belongs to a single request and is not safe for concurrent use.
type Session struct {
	// Unique identifier, also the cookie value
	id string

	// used to determine the session duration
	createdAt time.Time

	// Session data as key-value pairs
	values map[string]any

	// Indicates if the session needs to be destroyed
	isDestroyed bool

	isModified bool
}

func newSession() *Session {
	return &Session{
		id:        genSessionID(),
		createdAt: time.Now(),
		values:    make(map[string]any),
	}
}

// Destroy removes the session
func (s *Session) Destroy() {
	s.Clear()
	s.isModified = true
	s.isDestroyed = true
}

// Set adds or updates a value in the session.
func (s *Session) Set(key string, value any) {
	s.isModified = true
	s.values[key] = value
}

// GetCreatedAt returns the time when the session was created.
func (s *Session) GetCreatedAt() time.Time {
	return s.createdAt
}

// GetID returns the session's unique identifier.
func (s *Session) GetID() string {
	return s.id
}

// IsModified reports whether the session has unsaved changes.
func (s *Session) IsModified() bool {
	return s.isModified
}

// Get retrieves a value from the session.
// Returns nil if the key doesn't exist.
func (s *Session) Get(key string) any {
	return s.values[key]
}

func (s *Session) GetInt(key string) int {
	v, _ := s.values[key].(int)
	return v
}

// GetInt64 retrieves an int64, also accepting the json.Number and float64
// forms a value takes after a round trip through JSONCodec.
func (s *Session) GetInt64(key string) (int64, bool) {
	switch v := s.values[key].(type) {
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func (s *Session) GetBool(key string) bool {
	v, _ := s.values[key].(bool)
	return v
}

func (s *Session) GetString(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// GetTime retrieves an instant stored with SetTime.
func (s *Session) GetTime(key string) (time.Time, bool) {
	n, ok := s.GetInt64(key)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// SetTime stores t as Unix nanoseconds so it survives any Codec.
func (s *Session) SetTime(key string, t time.Time) {
	s.Set(key, t.UnixNano())
}

// Delete removes a value from the session.
func (s *Session) Delete(key string) {
	s.isModified = true
	delete(s.values, key)
}

// Clear removes all values from the session.
func (s *Session) Clear() {
	s.isModified = true
	s.values = make(map[string]any)
}

// genSessionID returns a random (version 4) UUID, which fits the CHAR(36)
// token columns of the SQL stores.
func genSessionID() string {
	return uuid.New().String()
}
