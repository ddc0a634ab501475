// Package gormstore provides a gorm session storage implementation.
//
// GORMStore keeps session data in a "sessions" table created through
// AutoMigrate, and supports periodic cleanup of expired sessions. Any gorm
// dialect works; the captchad binary uses it with sqlite.
package gormstore

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/bluescreen10/captchax/session"
	"gorm.io/gorm"
)

var _ session.Store = &GORMStore{}

// GORMStore is a gorm backed storage for session data.
type GORMStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// record represents a single stored session, containing the data
// and its expiration time.
type record struct {
	Token     string `gorm:"primaryKey;type:char(36)"`
	Data      []byte
	ExpiresAt time.Time `gorm:"index"`
}

func (record) TableName() string {
	return "sessions"
}

type config func(*GORMStore)

// WithLogger sets the logger used by the cleanup loop.
func WithLogger(logger *slog.Logger) config {
	return config(func(s *GORMStore) {
		s.logger = logger
	})
}

// New creates and returns a new GORMStore instance.
// If the sessions table doesn't exist it is created.
func New(db *gorm.DB, cfgs ...config) (*GORMStore, error) {
	s := &GORMStore{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, cfg := range cfgs {
		cfg(s)
	}
	return s, db.AutoMigrate(&record{})
}

// Get retrieves the data associated with the given token. Returns
// the data, a boolean indicating whether the token was found and
// not expired, and an error.
func (s *GORMStore) Get(ctx context.Context, token string) ([]byte, bool, error) {
	rec := &record{}
	tx := s.db.WithContext(ctx).
		Where("token = ? AND expires_at >= ?", token, time.Now().UTC()).
		Limit(1).
		Find(rec)
	if tx.Error != nil || tx.RowsAffected == 0 {
		return nil, false, tx.Error
	}

	return rec.Data, true, nil
}

// Set stores the data under the given token with an expiration time. If
// a record with the same token already exists, it is overwritten.
func (s *GORMStore) Set(ctx context.Context, token string, data []byte, expiresAt time.Time) error {
	rec := &record{}
	tx := s.db.WithContext(ctx).
		Where(record{Token: token}).
		Assign(record{Data: data, ExpiresAt: expiresAt.UTC()}).
		FirstOrCreate(rec)
	return tx.Error
}

// Delete removes the data associated with the given token.
func (s *GORMStore) Delete(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Delete(&record{}, "token = ?", token).Error
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
func (s *GORMStore) PeriodicCleanUp(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.DeleteExpired(context.Background()); err != nil {
				s.logger.Error("failed to delete expired sessions", "err", err)
			}
		case <-stop:
			return
		}
	}
}

// DeleteExpired removes all expired records and returns how many went.
func (s *GORMStore) DeleteExpired(ctx context.Context) (int64, error) {
	tx := s.db.WithContext(ctx).Delete(&record{}, "expires_at < ?", time.Now().UTC())
	return tx.RowsAffected, tx.Error
}
