// Package store provides the PostgreSQL-backed durable stores for
// checkpoints and dead letters, sharing one connection pool.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veildata-systems/veilpipe/common/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Postgres owns the connection pool shared by the repositories.
type Postgres struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// Open runs migrations, creates the pool, and verifies connectivity.
func Open(ctx context.Context, dsn string, log *logging.Logger) (*Postgres, error) {
	if log == nil {
		log = logging.Default()
	}

	if err := runMigrations(dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}

	log.Info("postgres store ready", logging.Component("store"))
	return &Postgres{pool: pool, log: log}, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Checkpoints returns the checkpoint repository backed by this pool.
func (p *Postgres) Checkpoints(maxHistory int) *CheckpointRepo {
	return &CheckpointRepo{pool: p.pool, maxHistory: maxHistory}
}

// DeadLetters returns the dead-letter repository backed by this pool.
func (p *Postgres) DeadLetters() *DeadLetterRepo {
	return &DeadLetterRepo{pool: p.pool}
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
