// Package mysqlstore provides a MySQL/MariaDB session storage implementation.
//
// MySQLStore keeps session data in a "sessions" table, created on New if
// missing, and supports periodic cleanup of expired sessions.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bluescreen10/captchax/session"
	"github.com/go-sql-driver/mysql"
)

var _ session.Store = &MySQLStore{}

type MySQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

type config func(*MySQLStore)

// WithLogger sets the logger used to report cleanup failures.
func WithLogger(logger *slog.Logger) config {
	return config(func(s *MySQLStore) {
		s.logger = logger
	})
}

// New wraps an open database handle. The sessions table and its expiry
// index are created when missing.
func New(db *sql.DB, cfgs ...config) (*MySQLStore, error) {
	s := &MySQLStore{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, cfg := range cfgs {
		cfg(s)
	}
	return s, createTable(context.Background(), db)
}

// Open connects using cfg and returns a store on top of the connection.
// ParseTime is forced on since expiry columns are scanned as time.Time.
func Open(cfg *mysql.Config, cfgs ...config) (*MySQLStore, error) {
	cfg = cfg.Clone()
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql config: %w", err)
	}
	db := sql.OpenDB(connector)

	s, err := New(db, cfgs...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *MySQLStore) DB() *sql.DB {
	return s.db
}

// Get retrieves the data associated with the given token. Returns
// the data, a boolean indicating whether the token was found and
// not expired, and an error.
func (s *MySQLStore) Get(ctx context.Context, token string) ([]byte, bool, error) {
	stmt := "SELECT data FROM sessions WHERE token = ? AND UTC_TIMESTAMP(6) < expires_at"
	row := s.db.QueryRowContext(ctx, stmt, token)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set stores the data under the given token with an expiration time. If
// a record with the same token already exists, it is overwritten.
func (s *MySQLStore) Set(ctx context.Context, token string, data []byte, expiresAt time.Time) error {
	stmt := "INSERT INTO sessions(token, data, expires_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE data = VALUES(data), expires_at = VALUES(expires_at)"
	_, err := s.db.ExecContext(ctx, stmt, token, data, expiresAt.UTC())
	return err
}

// Delete removes the data associated with the given token.
func (s *MySQLStore) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
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
func (s *MySQLStore) PeriodicCleanUp(interval time.Duration, stop <-chan struct{}) {
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
func (s *MySQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE UTC_TIMESTAMP(6) > expires_at")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func createTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sessions (
			token CHAR(36) COLLATE utf8mb4_bin PRIMARY KEY,
			data BLOB NOT NULL,
			expires_at TIMESTAMP(6) NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}
