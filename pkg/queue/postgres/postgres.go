// Package postgres provides a queue.Store backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeGROOVE-dev/auto-assign/pkg/queue"
	"github.com/codeGROOVE-dev/auto-assign/pkg/queue/postgres/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Config holds connection settings.
type Config struct {
	DSN      string
	MaxConns int32
}

// Store keeps rotation records in the reviewer_queues table.
type Store struct {
	pool *pgxpool.Pool
}

var _ queue.Store = (*Store)(nil)

// New connects to the database and applies pending migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	// The pool owns the connections; closing db here would not release anything extra.
	db := stdlib.OpenDBFromPool(pool)

	goose.SetBaseFS(migrations.Files)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Load returns the record for key.
func (s *Store) Load(ctx context.Context, key queue.Key) (queue.Record, error) {
	if err := key.Validate(); err != nil {
		return queue.Record{}, queue.ReadError(key, err)
	}

	var rec queue.Record
	err := s.pool.QueryRow(ctx, `
		SELECT member_order, version
		FROM reviewer_queues
		WHERE repository = $1 AND team = $2`, key.Repository, key.Team).Scan(&rec.Order, &rec.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return queue.Record{}, nil
		}
		return queue.Record{}, queue.ReadError(key, err)
	}

	if rec.Order == nil {
		rec.Order = []string{}
	}
	rec.Found = true
	return rec, nil
}

// Save writes order for key if the stored version matches expectedVersion.
func (s *Store) Save(ctx context.Context, key queue.Key, order []string, expectedVersion int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, queue.WriteError(key, err)
	}
	if order == nil {
		order = []string{}
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if expectedVersion == 0 {
		tag, err = s.pool.Exec(ctx, `
			INSERT INTO reviewer_queues (repository, team, member_order, version, updated_at)
			VALUES ($1, $2, $3, 1, NOW())
			ON CONFLICT (repository, team) DO NOTHING`, key.Repository, key.Team, order)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE reviewer_queues
			SET member_order = $3,
			    version = version + 1,
			    updated_at = NOW()
			WHERE repository = $1 AND team = $2 AND version = $4`, key.Repository, key.Team, order, expectedVersion)
	}
	if err != nil {
		return 0, queue.WriteError(key, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, queue.ErrConflict
	}
	return expectedVersion + 1, nil
}
