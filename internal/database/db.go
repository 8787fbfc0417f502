// Package database persists patient records in PostgreSQL through pgx.
//
// Stores take a DB per call rather than holding a pool, so one pipeline run
// can acquire a single connection and hand it to every step.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/PatientETL/internal/config"
	"github.com/JonMunkholm/PatientETL/internal/core"
	"github.com/JonMunkholm/PatientETL/internal/logging"
)

// DB is the subset of a pgx connection the stores use.
// Satisfied by *pgxpool.Conn, *pgx.Conn, and pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Connector hands out one connection per pipeline run.
type Connector interface {
	// Acquire returns a connection and the func that gives it back.
	Acquire(ctx context.Context) (DB, func(), error)
	Ping(ctx context.Context) error
}

// PoolConnector is a Connector backed by a pgxpool.Pool.
type PoolConnector struct {
	Pool *pgxpool.Pool
}

// Acquire checks a connection out of the pool.
func (p PoolConnector) Acquire(ctx context.Context) (DB, func(), error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, core.ConnectionError("acquire connection", err)
	}
	return conn, conn.Release, nil
}

// Ping verifies the pool can reach the server.
func (p PoolConnector) Ping(ctx context.Context) error {
	if err := p.Pool.Ping(ctx); err != nil {
		return core.ConnectionError("ping", err)
	}
	return nil
}

// LazyConnector opens its pool on the first Acquire or Ping, so a run that
// fails on its input never dials the database.
type LazyConnector struct {
	cfg    config.DatabaseConfig
	logger *slog.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewLazyConnector returns a Connector for cfg that has not connected yet.
func NewLazyConnector(cfg config.DatabaseConfig, logger *slog.Logger) *LazyConnector {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LazyConnector{cfg: cfg, logger: logger}
}

func (l *LazyConnector) open(ctx context.Context) (*pgxpool.Pool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pool == nil {
		pool, err := NewPool(ctx, l.cfg)
		if err != nil {
			return nil, err
		}
		l.pool = pool
		l.logger.Info("connected to database", "name", l.cfg.DatabaseName())
	}
	return l.pool, nil
}

// Acquire opens the pool if needed and checks out a connection.
func (l *LazyConnector) Acquire(ctx context.Context) (DB, func(), error) {
	pool, err := l.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	return PoolConnector{Pool: pool}.Acquire(ctx)
}

// Ping opens the pool if needed and verifies the server is reachable.
func (l *LazyConnector) Ping(ctx context.Context) error {
	pool, err := l.open(ctx)
	if err != nil {
		return err
	}
	return PoolConnector{Pool: pool}.Ping(ctx)
}

// Connected reports whether the pool has been opened.
func (l *LazyConnector) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool != nil
}

// Close closes the pool if it was opened. The connector may be reused.
func (l *LazyConnector) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pool != nil {
		l.pool.Close()
		l.pool = nil
	}
}

// NewPool parses cfg, opens a pool, and pings it. Any failure is a
// ConnectionError and leaves nothing open.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, core.ConnectionError("parse database config", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, core.ConnectionError("open pool", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, core.ConnectionError("ping", err)
	}

	return pool, nil
}

// withTx runs fn in a transaction: commit on success, rollback on error.
func withTx(ctx context.Context, db DB, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				logging.FromContext(ctx, nil).Warn("transaction rollback failed", "error", rbErr)
			}
			return
		}
		if cErr := tx.Commit(ctx); cErr != nil {
			err = fmt.Errorf("commit: %w", cErr)
		}
	}()

	return fn(tx)
}
