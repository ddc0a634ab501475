package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bluescreen10/captchax/gormstore"
	"github.com/bluescreen10/captchax/memstore"
	"github.com/bluescreen10/captchax/mysqlstore"
	"github.com/bluescreen10/captchax/redisstore"
	"github.com/bluescreen10/captchax/session"
	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sessionBackend is an open session store with its cleanup loop, if any.
type sessionBackend struct {
	session.Store
	close func() error
}

// openStore connects the configured backend. Expired records are purged
// every interval until stop is closed; redis expires them by itself.
func openStore(ctx context.Context, backend, dsn string, interval time.Duration, logger *slog.Logger, stop <-chan struct{}) (*sessionBackend, error) {
	switch strings.ToLower(backend) {
	case "memory":
		s := memstore.New()
		go s.PeriodicCleanUp(interval, stop)
		return &sessionBackend{Store: s, close: func() error { return nil }}, nil

	case "redis":
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("redis dsn: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return &sessionBackend{Store: redisstore.New(rdb), close: rdb.Close}, nil

	case "sqlite":
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		s, err := gormstore.New(db, gormstore.WithLogger(logger))
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		go s.PeriodicCleanUp(interval, stop)
		return &sessionBackend{Store: s, close: sqlDB.Close}, nil

	case "mysql":
		mcfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("mysql dsn: %w", err)
		}
		s, err := mysqlstore.Open(mcfg, mysqlstore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("connecting to mysql: %w", err)
		}
		go s.PeriodicCleanUp(interval, stop)
		return &sessionBackend{Store: s, close: s.DB().Close}, nil

	default:
		return nil, fmt.Errorf("unknown session backend %q", backend)
	}
}
