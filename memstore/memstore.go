// Package memstore provides an in-memory session storage implementation.
//
// Memstore allows storing, retrieving, and deleting session data keyed
// by a session token. Each record has an expiration time, and the store
// supports periodic cleanup of expired sessions.
//
// This package is suitable for single-process deployments or testing.
// It is not persistent, so captcha passes recorded in it are lost on
// restart and are not shared across processes.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/bluescreen10/captchax/session"
)

var _ session.Store = &Memstore{}

// Memstore is an in-memory storage for session data.
// It is safe for concurrent use by multiple goroutines.
type Memstore struct {
	sessions sync.Map
}

// record represents a single stored session, containing the data
// and its expiration time.
type record struct {
	expiresAt time.Time
	data      []byte
}

// New creates and returns a new Memstore instance.
func New() *Memstore {
	return &Memstore{}
}

// Get retrieves the data associated with the given token. If the record
// has expired, it is deleted and Get reports it as not found.
func (m *Memstore) Get(ctx context.Context, token string) ([]byte, bool, error) {
	r, ok := m.sessions.Load(token)
	if !ok {
		return []byte{}, false, nil
	}

	rec := r.(record)
	if time.Now().After(rec.expiresAt) {
		m.sessions.Delete(token)
		return []byte{}, false, nil
	}

	return rec.data, true, nil
}

// Set stores the data under the given token until expiresAt, overwriting
// any existing record.
func (m *Memstore) Set(ctx context.Context, token string, data []byte, expiresAt time.Time) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.sessions.Store(token, record{expiresAt: expiresAt, data: buf})
	return nil
}

// Delete removes the data associated with the given token. If the token
// does not exist, this is a no-op.
func (m *Memstore) Delete(ctx context.Context, token string) error {
	m.sessions.Delete(token)
	return nil
}

// Count returns the number of records held, expired or not.
func (m *Memstore) Count() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// PeriodicCleanUp runs a loop that periodically deletes expired sessions.
// The cleanup runs every interval duration until the stop channel is
// closed or receives a value.
//
// Example usage:
//
//	stop := make(chan struct{})
//	go store.PeriodicCleanUp(time.Minute, stop)
//	...
//	close(stop) // stop the cleanup
func (m *Memstore) PeriodicCleanUp(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-stop:
			return
		}
	}
}

func (m *Memstore) deleteExpired() {
	now := time.Now()
	m.sessions.Range(func(key, value any) bool {
		if now.After(value.(record).expiresAt) {
			m.sessions.Delete(key)
		}
		return true
	})
}
